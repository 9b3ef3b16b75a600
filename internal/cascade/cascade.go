// Package cascade deletes everything a user owns when their account is
// removed. Deletion is not transactional: the tree is removed leaf level by
// leaf level, each document retried a bounded number of times and abandoned
// after that.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"remember/api/internal/docstore"
	"remember/api/internal/model"
)

const (
	DefaultMaxAttempts = 10
	DefaultMaxEventAge = 60 * time.Second
	DefaultMaxDepth    = 8
	DefaultConcurrency = 16
)

var ErrInvalidEvent = errors.New("invalid user deletion event")

// Event announces that the identity provider deleted an account.
type Event struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
	UID       string    `json:"uid"`
}

type Result struct {
	// Dropped is set when the event was too old to act on.
	Dropped bool `json:"dropped"`
	Deleted int  `json:"deleted"`
	// Abandoned lists documents still present after every attempt.
	Abandoned    []string `json:"abandoned,omitempty"`
	ImageDeleted bool     `json:"imageDeleted"`
}

type Config struct {
	MaxAttempts int
	MaxEventAge time.Duration
	MaxDepth    int
	Concurrency int
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
}

type documentStore interface {
	Descendants(ctx context.Context, ref docstore.Ref, maxDepth int) ([]docstore.Ref, error)
	Delete(ctx context.Context, ref docstore.Ref) error
}

type imageStore interface {
	DeleteProfileImage(ctx context.Context, uid string) error
}

type Deleter struct {
	store  documentStore
	images imageStore
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// New builds a Deleter. images may be nil. Zero config fields take the
// package defaults.
func New(store documentStore, images imageStore, cfg Config, log zerolog.Logger) *Deleter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxEventAge <= 0 {
		cfg.MaxEventAge = DefaultMaxEventAge
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Deleter{store: store, images: images, cfg: cfg, log: log, now: time.Now}
}

func (d *Deleter) DeleteUser(ctx context.Context, event Event) (Result, error) {
	if !docstore.ValidID(event.UID) || event.Timestamp.IsZero() {
		return Result{}, fmt.Errorf("%w: uid %q at %v", ErrInvalidEvent, event.UID, event.Timestamp)
	}
	log := d.log.With().Str("event_id", event.EventID).Str("uid", event.UID).Logger()

	if age := d.now().Sub(event.Timestamp); age > d.cfg.MaxEventAge {
		log.Info().Dur("age", age).Msg("dropping stale user deletion event")
		return Result{Dropped: true}, nil
	}

	root := model.UserRef(event.UID)
	refs, err := d.store.Descendants(ctx, root, d.cfg.MaxDepth)
	if err != nil {
		return Result{}, fmt.Errorf("list documents of %s: %w", root, err)
	}

	var (
		mu     sync.Mutex
		result Result
	)
	for _, level := range byLevel(append(refs, root)) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.cfg.Concurrency)
		for _, ref := range level {
			g.Go(func() error {
				err := d.deleteWithRetry(gctx, ref)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					result.Deleted++
				case gctx.Err() != nil:
					return gctx.Err()
				default:
					log.Error().Err(err).Str("ref", ref.Path()).Msg("abandoning document")
					result.Abandoned = append(result.Abandoned, ref.Path())
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, fmt.Errorf("delete documents of %s: %w", root, err)
		}
	}

	if d.images != nil {
		if err := d.images.DeleteProfileImage(ctx, event.UID); err != nil {
			log.Warn().Err(err).Msg("profile image not deleted")
		} else {
			result.ImageDeleted = true
		}
	}

	log.Info().Int("deleted", result.Deleted).Int("abandoned", len(result.Abandoned)).Msg("user data deleted")
	return result, nil
}

func (d *Deleter) deleteWithRetry(ctx context.Context, ref docstore.Ref) error {
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err = d.store.Delete(ctx, ref); err == nil {
			return nil
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * d.cfg.Backoff):
		}
	}
	return fmt.Errorf("after %d attempts: %w", d.cfg.MaxAttempts, err)
}

// byLevel groups refs by depth, deepest level first, so no document is
// removed before its children.
func byLevel(refs []docstore.Ref) [][]docstore.Ref {
	docstore.SortDeepestFirst(refs)
	var levels [][]docstore.Ref
	for i, ref := range refs {
		if i == 0 || ref.Depth() != refs[i-1].Depth() {
			levels = append(levels, nil)
		}
		levels[len(levels)-1] = append(levels[len(levels)-1], ref)
	}
	return levels
}
