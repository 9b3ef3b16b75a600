// Package redisstore keeps documents in Redis, one JSON string per document,
// using WATCH/MULTI/EXEC for optimistic transactions.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"remember/api/internal/docstore"
)

const keyPrefix = "doc:"

// Store implements docstore.Store using Redis.
type Store struct {
	client      *redis.Client
	maxAttempts int
}

// Open connects to redisURL and checks the connection.
func Open(ctx context.Context, redisURL string, maxAttempts int) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, maxAttempts), nil
}

// NewWithClient creates a store from an existing Redis client.
func NewWithClient(client *redis.Client, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = docstore.DefaultMaxAttempts
	}
	return &Store{client: client, maxAttempts: maxAttempts}
}

func key(ref docstore.Ref) string {
	return keyPrefix + ref.Path()
}

type tx struct {
	docstore.Staging
	rtx *redis.Tx
	// watched holds the keys already under WATCH. Watching a key again
	// would move its baseline past a write made since the first read.
	watched map[string]bool
}

func (t *tx) watch(ctx context.Context, keys ...string) error {
	var fresh []string
	for _, k := range keys {
		if !t.watched[k] {
			t.watched[k] = true
			fresh = append(fresh, k)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	return t.rtx.Watch(ctx, fresh...).Err()
}

func (t *tx) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	if err := t.CheckRead(ref); err != nil {
		return docstore.Snapshot{}, err
	}
	if err := t.watch(ctx, key(ref)); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("watch %s: %w", ref, err)
	}
	return get(ctx, t.rtx, ref)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c getter, ref docstore.Ref) (docstore.Snapshot, error) {
	data, err := c.Get(ctx, key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return docstore.Snapshot{Ref: ref, Exists: true, Data: data}, nil
}

// RunTransaction runs fn against a pinned connection. Every document read is
// watched, so a concurrent change makes EXEC fail and fn runs again.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return docstore.Retry(ctx, s.maxAttempts, func(ctx context.Context) error {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &tx{rtx: rtx, watched: make(map[string]bool)}
			if err := fn(ctx, t); err != nil {
				return err
			}
			return commit(ctx, t)
		})
		if errors.Is(err, redis.TxFailedErr) {
			return docstore.ErrConflict
		}
		return err
	})
}

func commit(ctx context.Context, t *tx) error {
	writes := t.Writes()
	if len(writes) == 0 {
		return nil
	}

	keys := make([]string, 0, len(writes))
	for _, w := range writes {
		keys = append(keys, key(w.Ref))
	}
	if err := t.watch(ctx, keys...); err != nil {
		return fmt.Errorf("watch written documents: %w", err)
	}

	states, err := docstore.Resolve(writes, func(ref docstore.Ref) ([]byte, bool, error) {
		snap, err := get(ctx, t.rtx, ref)
		return snap.Data, snap.Exists, err
	})
	if err != nil {
		return err
	}

	_, err = t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, state := range states {
			if state.Deleted {
				pipe.Del(ctx, key(state.Ref))
				continue
			}
			pipe.Set(ctx, key(state.Ref), state.Data, 0)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get reads one document outside any transaction.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	return get(ctx, s.client, ref)
}

// Children lists the documents of one sub-collection, ordered by path.
func (s *Store) Children(ctx context.Context, parent docstore.Ref, collection string) ([]docstore.Ref, error) {
	depth := parent.Depth() + 1
	refs, err := s.scan(ctx, parent.CollectionPath(collection)+"/", func(ref docstore.Ref) bool {
		return ref.Depth() == depth
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", parent.CollectionPath(collection), err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path() < refs[j].Path() })
	return refs, nil
}

// Descendants lists every document below ref within maxDepth levels.
func (s *Store) Descendants(ctx context.Context, ref docstore.Ref, maxDepth int) ([]docstore.Ref, error) {
	limit := ref.Depth() + maxDepth
	prefix := ""
	if !ref.IsZero() {
		prefix = ref.Path() + "/"
	}
	refs, err := s.scan(ctx, prefix, func(r docstore.Ref) bool {
		return r.Depth() <= limit
	})
	if err != nil {
		return nil, fmt.Errorf("list descendants of %s: %w", ref, err)
	}
	docstore.SortDeepestFirst(refs)
	return refs, nil
}

func (s *Store) scan(ctx context.Context, pathPrefix string, keep func(docstore.Ref) bool) ([]docstore.Ref, error) {
	var refs []docstore.Ref
	iter := s.client.Scan(ctx, 0, keyPrefix+escapeGlob(pathPrefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		ref, err := docstore.ParseRef(strings.TrimPrefix(iter.Val(), keyPrefix))
		if err != nil {
			continue
		}
		if keep(ref) {
			refs = append(refs, ref)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

// Delete removes one document.
func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	if err := s.client.Del(ctx, key(ref)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
