// Package codec turns model entities into stored documents and back, either
// as plain JSON or through a user's envelope key.
package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"remember/api/internal/docstore"
	"remember/api/internal/envelope"
	"remember/api/internal/model"
	"remember/api/internal/txwrite"
)

// ErrUnreadable means the document exists but could not be decoded. The
// decoder still returns the entity's empty default alongside it.
var ErrUnreadable = errors.New("document unreadable")

// Codec encodes values for a txwrite.Buffer and decodes snapshots. Decoders
// return docstore.ErrNotFound for missing documents and ErrUnreadable for
// documents they cannot read.
type Codec interface {
	EncodeUser(u model.User) any
	EncodeRound(r model.Round) any
	EncodeTask(t model.Task) any
	EncodeToday(t model.Today) any
	EncodeTodayTask(t model.TodayTask) any

	DecodeUser(snap docstore.Snapshot) (model.User, error)
	DecodeRound(snap docstore.Snapshot) (model.Round, error)
	DecodeTask(snap docstore.Snapshot) (model.Task, error)
	DecodeToday(snap docstore.Snapshot) (model.Today, error)
	DecodeTodayTask(snap docstore.Snapshot) (model.TodayTask, error)
}

func missing(snap docstore.Snapshot) error {
	if !snap.Exists {
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, snap.Ref)
	}
	return nil
}

func unreadable(snap docstore.Snapshot, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnreadable, snap.Ref, err)
}

// Plain stores entities as JSON.
type Plain struct{}

func (Plain) EncodeUser(u model.User) any           { return u }
func (Plain) EncodeRound(r model.Round) any         { return r }
func (Plain) EncodeTask(t model.Task) any           { return t }
func (Plain) EncodeToday(t model.Today) any         { return t }
func (Plain) EncodeTodayTask(t model.TodayTask) any { return t }

func (Plain) DecodeUser(snap docstore.Snapshot) (model.User, error) {
	var u model.User
	err := decodePlain(snap, &u)
	u.ID = snap.Ref.ID()
	return u, err
}

func (Plain) DecodeRound(snap docstore.Snapshot) (model.Round, error) {
	var r model.Round
	if err := decodePlain(snap, &r); err != nil {
		return model.Round{ID: snap.Ref.ID()}, err
	}
	r.ID = snap.Ref.ID()
	return r, nil
}

func (Plain) DecodeTask(snap docstore.Snapshot) (model.Task, error) {
	var t model.Task
	if err := decodePlain(snap, &t); err != nil {
		return model.Task{ID: snap.Ref.ID()}, err
	}
	t.ID = snap.Ref.ID()
	return t, nil
}

func (Plain) DecodeToday(snap docstore.Snapshot) (model.Today, error) {
	var t model.Today
	if err := decodePlain(snap, &t); err != nil {
		return model.Today{ID: model.Weekday(snap.Ref.ID())}, err
	}
	t.ID = model.Weekday(snap.Ref.ID())
	return t, nil
}

func (Plain) DecodeTodayTask(snap docstore.Snapshot) (model.TodayTask, error) {
	var t model.TodayTask
	if err := decodePlain(snap, &t); err != nil {
		return model.TodayTask{ID: snap.Ref.ID(), TimesOfDay: map[string]bool{}}, err
	}
	t.ID = snap.Ref.ID()
	if t.TimesOfDay == nil {
		t.TimesOfDay = map[string]bool{}
	}
	return t, nil
}

func decodePlain(snap docstore.Snapshot, v any) error {
	if err := missing(snap); err != nil {
		return err
	}
	if err := json.Unmarshal(snap.Data, v); err != nil {
		return unreadable(snap, err)
	}
	return nil
}

// Encrypted stores entities through an envelope key. Encryption runs when the
// buffer executes.
type Encrypted struct {
	Key *envelope.Key
}

func (c Encrypted) EncodeUser(u model.User) any {
	return txwrite.Pending(func(context.Context) (any, error) { return c.Key.EncryptUser(u) })
}

func (c Encrypted) EncodeRound(r model.Round) any {
	return txwrite.Pending(func(context.Context) (any, error) { return c.Key.EncryptRound(r) })
}

func (c Encrypted) EncodeTask(t model.Task) any {
	return txwrite.Pending(func(context.Context) (any, error) { return c.Key.EncryptTask(t) })
}

func (c Encrypted) EncodeToday(t model.Today) any {
	return txwrite.Pending(func(context.Context) (any, error) { return c.Key.EncryptToday(t) })
}

func (c Encrypted) EncodeTodayTask(t model.TodayTask) any {
	return txwrite.Pending(func(context.Context) (any, error) {
		data, _, err := c.Key.EncryptTodayTask(t)
		return data, err
	})
}

func (c Encrypted) DecodeUser(snap docstore.Snapshot) (model.User, error) {
	if err := missing(snap); err != nil {
		return model.User{ID: snap.Ref.ID()}, err
	}
	return finish(snap, c.Key.DecryptUser(snap.Data), func(u *model.User) { u.ID = snap.Ref.ID() })
}

func (c Encrypted) DecodeRound(snap docstore.Snapshot) (model.Round, error) {
	if err := missing(snap); err != nil {
		return model.Round{ID: snap.Ref.ID()}, err
	}
	return finish(snap, c.Key.DecryptRound(snap.Data), func(r *model.Round) { r.ID = snap.Ref.ID() })
}

func (c Encrypted) DecodeTask(snap docstore.Snapshot) (model.Task, error) {
	if err := missing(snap); err != nil {
		return model.Task{ID: snap.Ref.ID()}, err
	}
	return finish(snap, c.Key.DecryptTask(snap.Data), func(t *model.Task) { t.ID = snap.Ref.ID() })
}

func (c Encrypted) DecodeToday(snap docstore.Snapshot) (model.Today, error) {
	if err := missing(snap); err != nil {
		return model.Today{ID: model.Weekday(snap.Ref.ID())}, err
	}
	return finish(snap, c.Key.DecryptToday(snap.Data), func(t *model.Today) { t.ID = model.Weekday(snap.Ref.ID()) })
}

func (c Encrypted) DecodeTodayTask(snap docstore.Snapshot) (model.TodayTask, error) {
	if err := missing(snap); err != nil {
		return model.TodayTask{ID: snap.Ref.ID(), TimesOfDay: map[string]bool{}}, err
	}
	return finish(snap, c.Key.DecryptTodayTask(snap.Data), func(t *model.TodayTask) { t.ID = snap.Ref.ID() })
}

func finish[T any](snap docstore.Snapshot, d envelope.Decoded[T], setID func(*T)) (T, error) {
	v := d.Value
	setID(&v)
	if !d.OK() {
		return v, unreadable(snap, d.Err)
	}
	return v, nil
}
