package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"remember/api/internal/cascade"
	"remember/api/internal/codec"
	"remember/api/internal/imaging"
	"remember/api/internal/model"
	"remember/api/internal/validate"
)

var (
	errImagesDisabled   = errors.New("profile image storage is not configured")
	errAccountsDisabled = errors.New("account deletion is not configured")
)

// UploadProfileImage transcodes a data URL image, stores it and points the
// user's photoUrl at it. The upload happens before the transaction so a retry
// never uploads twice.
func (s *Service) UploadProfileImage(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	var req validate.UploadProfileImage
	c, err := s.begin(caller, data, &req)
	if err != nil {
		return nil, err
	}
	if s.objects == nil {
		return nil, errImagesDisabled
	}
	if err := s.checkEnabled(ctx, caller.UID, c); err != nil {
		return nil, err
	}

	raw, err := imaging.DecodeDataURL(req.ImageDataURL)
	if errors.Is(err, imaging.ErrImageTooLarge) {
		return nil, invalidArgument("", fmt.Sprintf("You can upload an image of up to %d MB.", model.MaxProfileImageSize>>20))
	}
	if err != nil {
		return nil, invalidArgument("", "The image could not be read.")
	}
	jpeg, err := s.images.Transcode(raw)
	if err != nil {
		return nil, invalidArgument("", "The image could not be read.")
	}
	photoURL, err := s.objects.PutProfileImage(ctx, caller.UID, jpeg)
	if err != nil {
		return nil, fmt.Errorf("store profile image: %w", err)
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		user, err := t.editableUser()
		if err != nil {
			return err
		}
		user.PhotoURL = photoURL
		t.writes.Set(model.UserRef(t.uid), t.codec.EncodeUser(user))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Result{"details": "Your picture has been updated.", "photoUrl": photoURL}, nil
}

// DeleteUserImage clears photoUrl and then removes the stored image. It takes
// no data. An image left behind in storage is logged, not reported.
func (s *Service) DeleteUserImage(ctx context.Context, caller Caller, data json.RawMessage) (Result, error) {
	c, err := s.codecFor(caller)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		return nil, invalidArgument("", "This call takes no data.")
	}
	if s.objects == nil {
		return nil, errImagesDisabled
	}

	err = s.transact(ctx, caller, c, func(t *txn) error {
		user, err := t.editableUser()
		if err != nil {
			return err
		}
		if user.PhotoURL == "" {
			return nil
		}
		user.PhotoURL = ""
		t.writes.Set(model.UserRef(t.uid), t.codec.EncodeUser(user))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.objects.DeleteProfileImage(ctx, caller.UID); err != nil {
		s.log.Warn().Err(err).Str("uid", caller.UID).Msg("profile image not deleted")
	}
	return Result{"details": "Photo has been removed."}, nil
}

// checkEnabled rejects disabled accounts before work that happens outside a
// transaction.
func (s *Service) checkEnabled(ctx context.Context, uid string, c codec.Codec) error {
	snap, err := s.store.Get(ctx, model.UserRef(uid))
	if err != nil {
		return fmt.Errorf("read user: %w", err)
	}
	if !snap.Exists {
		return nil
	}
	user, _ := c.DecodeUser(snap)
	if user.Disabled {
		return permissionDenied("Your account is disabled.")
	}
	return nil
}

// UserDeleted handles the identity provider's account deletion event.
func (s *Service) UserDeleted(ctx context.Context, event cascade.Event) (cascade.Result, error) {
	if s.accounts == nil {
		return cascade.Result{}, errAccountsDisabled
	}
	return s.accounts.DeleteUser(ctx, event)
}
