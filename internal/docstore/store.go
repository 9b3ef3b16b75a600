// Package docstore defines the hierarchical document store the tracker is
// built on: single-transaction atomicity with optimistic concurrency, no
// joins and no cascades.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrConflict        = errors.New("transaction conflict")
	ErrReadAfterWrite  = errors.New("transaction read after write")
	ErrTooManyAttempts = errors.New("transaction retries exhausted")
	ErrInvalidRef      = errors.New("invalid document reference")
)

// DefaultMaxAttempts is how often RunTransaction runs a function that keeps
// losing to concurrent commits.
const DefaultMaxAttempts = 5

// Snapshot is the state of one document as read by a transaction.
type Snapshot struct {
	Ref    Ref
	Exists bool
	Data   []byte
}

// DataTo decodes the document JSON into v.
func (s Snapshot) DataTo(v any) error {
	if !s.Exists {
		return fmt.Errorf("%w: %s", ErrNotFound, s.Ref)
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Ref, err)
	}
	return nil
}

// Tx is one store-managed transaction. Reads go to the store immediately;
// writes are staged and only applied when the transaction function returns
// nil. Reading after staging a write is rejected with ErrReadAfterWrite.
type Tx interface {
	Get(ctx context.Context, ref Ref) (Snapshot, error)
	// Set replaces the document, creating it if needed.
	Set(ref Ref, data []byte)
	// Create fails the commit with ErrAlreadyExists if the document exists.
	Create(ref Ref, data []byte)
	// Update merges top-level fields into an existing document; a JSON null
	// removes the field. Fails the commit with ErrNotFound if missing.
	Update(ref Ref, data []byte)
	Delete(ref Ref)
}

// TxFunc is the body of a transaction. It may run more than once and must not
// have side effects outside tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is implemented by redisstore and sqlstore.
type Store interface {
	RunTransaction(ctx context.Context, fn TxFunc) error
	Get(ctx context.Context, ref Ref) (Snapshot, error)
	// Children lists the documents of the named sub-collection of parent.
	// The zero parent lists top-level collections.
	Children(ctx context.Context, parent Ref, collection string) ([]Ref, error)
	// Descendants lists every document below ref at most maxDepth levels
	// deeper, deepest first.
	Descendants(ctx context.Context, ref Ref, maxDepth int) ([]Ref, error)
	// Delete removes one document outside any transaction.
	Delete(ctx context.Context, ref Ref) error
	Ping(ctx context.Context) error
	Close() error
}

// Retry runs attempt until it returns something other than ErrConflict, at
// most maxAttempts times.
func Retry(ctx context.Context, maxAttempts int, attempt func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(ctx)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrTooManyAttempts, maxAttempts)
}

// SortDeepestFirst orders refs so children come before their parents.
func SortDeepestFirst(refs []Ref) {
	sort.SliceStable(refs, func(i, j int) bool {
		di, dj := refs[i].Depth(), refs[j].Depth()
		if di != dj {
			return di > dj
		}
		return refs[i].path < refs[j].path
	})
}
