package redisstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"remember/api/internal/docstore"
	"remember/api/internal/docstore/docstoretest"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := Open(context.Background(), "redis://"+s.Addr(), 0)
	if err != nil {
		t.Fatalf("failed to open redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestConformance(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		store, _ := setupTestStore(t)
		return store
	})
}

func TestOpenRejectsBadURL(t *testing.T) {
	if _, err := Open(context.Background(), "not-a-url", 0); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestConcurrentWriteRetriesTransaction(t *testing.T) {
	store, s := setupTestStore(t)
	ctx := context.Background()
	ref := docstore.Doc("users", "u1")

	attempts := 0
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// Another writer lands between the read and the commit.
			if err := store.client.Set(ctx, "doc:users/u1", `{"v":"other"}`, 0).Err(); err != nil {
				t.Fatalf("concurrent set: %v", err)
			}
		}
		if snap.Exists {
			tx.Set(ref, []byte(`{"v":"mine","saw":"other"}`))
			return nil
		}
		tx.Set(ref, []byte(`{"v":"mine"}`))
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}

	got, err := s.Get("doc:users/u1")
	if err != nil {
		t.Fatalf("miniredis get: %v", err)
	}
	if got != `{"v":"mine","saw":"other"}` {
		t.Errorf("unexpected stored value %s", got)
	}
}

func TestRereadKeepsFirstWatch(t *testing.T) {
	store, s := setupTestStore(t)
	ctx := context.Background()
	ref := docstore.Doc("users", "u1")

	attempts := 0
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		if _, err := tx.Get(ctx, ref); err != nil {
			return err
		}
		if attempts == 1 {
			if err := s.Set("doc:users/u1", `{"v":"other"}`); err != nil {
				t.Fatalf("concurrent set: %v", err)
			}
		}
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		if snap.Exists {
			tx.Set(ref, []byte(`{"v":"mine","saw":"other"}`))
			return nil
		}
		tx.Set(ref, []byte(`{"v":"mine"}`))
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := Open(context.Background(), "redis://"+s.Addr(), 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ref := docstore.Doc("users", "u1")
	err = store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, ref); err != nil {
			return err
		}
		_ = store.client.Set(ctx, "doc:users/u1", `{}`, 0).Err()
		tx.Set(ref, []byte(`{"v":1}`))
		return nil
	})
	if !errors.Is(err, docstore.ErrTooManyAttempts) {
		t.Fatalf("expected retries to be exhausted, got %v", err)
	}
}

func TestListingEscapesGlobCharacters(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	odd := docstore.Doc("users", "a*")
	plain := docstore.Doc("users", "ab")
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(odd.Doc("rounds", "r1"), []byte(`{}`))
		tx.Set(plain.Doc("rounds", "r2"), []byte(`{}`))
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}

	refs, err := store.Children(ctx, odd, "rounds")
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(refs) != 1 || refs[0] != odd.Doc("rounds", "r1") {
		t.Errorf("unexpected children %v", refs)
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob(`a*b?[c]\`); got != `a\*b\?\[c\]\\` {
		t.Errorf("escapeGlob = %q", got)
	}
}
