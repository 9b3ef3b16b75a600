// Package docstoretest holds the behaviour every docstore.Store backend must
// share, run from each backend's tests.
package docstoretest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remember/api/internal/docstore"
)

// Run exercises a fresh store produced by open.
func Run(t *testing.T, open func(t *testing.T) docstore.Store) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, open(t)) })
	t.Run("WritesInvisibleUntilCommit", func(t *testing.T) { testWritesInvisibleUntilCommit(t, open(t)) })
	t.Run("FailedFunctionDiscardsWrites", func(t *testing.T) { testFailedFunctionDiscardsWrites(t, open(t)) })
	t.Run("CreateAndUpdatePreconditions", func(t *testing.T) { testPreconditions(t, open(t)) })
	t.Run("ReadAfterWriteRejected", func(t *testing.T) { testReadAfterWrite(t, open(t)) })
	t.Run("ChildrenAndDescendants", func(t *testing.T) { testListing(t, open(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, open(t)) })
	t.Run("StaleReadConflicts", func(t *testing.T) { testStaleReadConflicts(t, open(t)) })
	t.Run("RecreatedDocumentConflicts", func(t *testing.T) { testRecreatedDocumentConflicts(t, open(t)) })
}

func testSetAndGet(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	ref := docstore.Doc("users", "u1")

	snap, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	err = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(ref, []byte(`{"roundsIds":["a"]}`))
		return nil
	})
	require.NoError(t, err)

	snap, err = store.Get(ctx, ref)
	require.NoError(t, err)
	require.True(t, snap.Exists)
	assert.JSONEq(t, `{"roundsIds":["a"]}`, string(snap.Data))

	require.NoError(t, store.Delete(ctx, ref))
	snap, err = store.Get(ctx, ref)
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func testWritesInvisibleUntilCommit(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	ref := docstore.Doc("users", "u1")

	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(ref, []byte(`{"v":1}`))
		snap, err := store.Get(ctx, ref)
		if err != nil {
			return err
		}
		assert.False(t, snap.Exists, "staged write leaked before commit")
		return nil
	})
	require.NoError(t, err)
}

func testFailedFunctionDiscardsWrites(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	ref := docstore.Doc("users", "u1")
	boom := errors.New("boom")

	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(ref, []byte(`{"v":1}`))
		return boom
	})
	require.ErrorIs(t, err, boom)

	snap, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func testPreconditions(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	a := docstore.Doc("users", "a")
	b := docstore.Doc("users", "b")

	require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Create(a, []byte(`{"v":1,"photoUrl":"x"}`))
		return nil
	}))

	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(b, []byte(`{"v":2}`))
		tx.Create(a, []byte(`{"v":3}`))
		return nil
	})
	require.ErrorIs(t, err, docstore.ErrAlreadyExists)

	snap, err := store.Get(ctx, b)
	require.NoError(t, err)
	assert.False(t, snap.Exists, "failed commit must not apply earlier writes")

	err = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Update(docstore.Doc("users", "missing"), []byte(`{"v":1}`))
		return nil
	})
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Update(a, []byte(`{"v":4,"photoUrl":null}`))
		return nil
	}))
	snap, err = store.Get(ctx, a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":4}`, string(snap.Data))
}

func testReadAfterWrite(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(docstore.Doc("users", "a"), []byte(`{}`))
		_, err := tx.Get(ctx, docstore.Doc("users", "b"))
		return err
	})
	require.ErrorIs(t, err, docstore.ErrReadAfterWrite)
}

func testListing(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	user := docstore.Doc("users", "u1")
	other := docstore.Doc("users", "u10")
	round := user.Doc("rounds", "r1")
	task := round.Doc("tasks", "t1")
	today := round.Doc("todays", "mon")
	todayTask := today.Doc("todayTasks", "t1")

	require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		for _, ref := range []docstore.Ref{user, other, round, task, today, todayTask} {
			tx.Set(ref, []byte(`{}`))
		}
		return nil
	}))

	users, err := store.Children(ctx, docstore.Ref{}, "users")
	require.NoError(t, err)
	assert.ElementsMatch(t, []docstore.Ref{user, other}, users)

	rounds, err := store.Children(ctx, user, "rounds")
	require.NoError(t, err)
	assert.Equal(t, []docstore.Ref{round}, rounds)

	all, err := store.Descendants(ctx, user, 8)
	require.NoError(t, err)
	assert.Equal(t, []docstore.Ref{todayTask, task, today, round}, all)

	shallow, err := store.Descendants(ctx, user, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []docstore.Ref{round, task, today}, shallow)
}

func testConcurrentIncrements(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	ref := docstore.Doc("counters", "c")
	require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(ref, []byte(`{"n":0}`))
		return nil
	}))

	type counter struct {
		N int `json:"n"`
	}
	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- docstore.Retry(ctx, 50, func(ctx context.Context) error {
				return store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
					snap, err := tx.Get(ctx, ref)
					if err != nil {
						return err
					}
					var c counter
					if err := snap.DataTo(&c); err != nil {
						return err
					}
					tx.Set(ref, []byte(`{"n":`+itoa(c.N+1)+`}`))
					return nil
				})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if errors.Is(err, docstore.ErrTooManyAttempts) {
			continue
		}
		require.NoError(t, err)
	}

	snap, err := store.Get(ctx, ref)
	require.NoError(t, err)
	var c counter
	require.NoError(t, snap.DataTo(&c))
	assert.LessOrEqual(t, c.N, workers)
	assert.Positive(t, c.N)
}

func testStaleReadConflicts(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	ref := docstore.Doc("users", "u1")
	require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(ref, []byte(`{"n":1}`))
		return nil
	}))

	attempts := 0
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		if attempts == 1 {
			require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, other docstore.Tx) error {
				other.Set(ref, []byte(`{"n":2}`))
				return nil
			}))
		}
		tx.Set(ref, append([]byte(nil), snap.Data...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	snap, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(snap.Data))
}

func testRecreatedDocumentConflicts(t *testing.T, store docstore.Store) {
	ctx := context.Background()
	ref := docstore.Doc("users", "u1")
	require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		tx.Set(ref, []byte(`{"n":1}`))
		return nil
	}))

	attempts := 0
	err := store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		snap, err := tx.Get(ctx, ref)
		if err != nil {
			return err
		}
		if attempts == 1 {
			require.NoError(t, store.Delete(ctx, ref))
			require.NoError(t, store.RunTransaction(ctx, func(ctx context.Context, other docstore.Tx) error {
				other.Create(ref, []byte(`{"n":99}`))
				return nil
			}))
		}
		tx.Set(ref, append([]byte(nil), snap.Data...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	snap, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":99}`, string(snap.Data))

	children, err := store.Children(ctx, docstore.Ref{}, "users")
	require.NoError(t, err)
	assert.Equal(t, []docstore.Ref{ref}, children)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
