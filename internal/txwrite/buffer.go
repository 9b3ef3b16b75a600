// Package txwrite buffers the writes of one store transaction so that nothing
// is written until every read and computation has succeeded.
package txwrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"

	"remember/api/internal/docstore"
)

// ErrNilValue marks a buffered write whose value resolved to nothing. It is a
// caller bug: Execute panics with an error wrapping it.
var ErrNilValue = errors.New("txwrite: buffered value resolved to nil")

// Pending is a value computed when Execute runs, such as an encryption.
type Pending func(ctx context.Context) (any, error)

// Writer is the write half of a docstore.Tx.
type Writer interface {
	Set(ref docstore.Ref, data []byte)
	Create(ref docstore.Ref, data []byte)
	Update(ref docstore.Ref, data []byte)
	Delete(ref docstore.Ref)
}

type item struct {
	ref   docstore.Ref
	value any
	data  []byte
}

// Buffer queues writes for one transaction. The zero value is not usable;
// build it with New.
type Buffer struct {
	w       Writer
	sets    []*item
	creates []*item
	updates []*item
	deletes []docstore.Ref
}

func New(w Writer) *Buffer {
	return &Buffer{w: w}
}

// Set queues a full replacement. value is a Pending, []byte, json.RawMessage
// or anything json.Marshal accepts.
func (b *Buffer) Set(ref docstore.Ref, value any) {
	b.sets = append(b.sets, &item{ref: ref, value: value})
}

func (b *Buffer) Create(ref docstore.Ref, value any) {
	b.creates = append(b.creates, &item{ref: ref, value: value})
}

func (b *Buffer) Update(ref docstore.Ref, value any) {
	b.updates = append(b.updates, &item{ref: ref, value: value})
}

func (b *Buffer) Delete(ref docstore.Ref) {
	b.deletes = append(b.deletes, ref)
}

func (b *Buffer) DeleteAll(refs []docstore.Ref) {
	b.deletes = append(b.deletes, refs...)
}

// Len is the number of queued writes.
func (b *Buffer) Len() int {
	return len(b.sets) + len(b.creates) + len(b.updates) + len(b.deletes)
}

// Execute resolves every queued value, each kind in parallel, then hands the
// writes to the transaction in the order set, create, update, delete and
// empties the queues. On error nothing is handed over and the queues are kept.
func (b *Buffer) Execute(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range [][]*item{b.sets, b.creates, b.updates} {
		for _, it := range kind {
			it := it
			g.Go(func() error {
				data, err := resolve(gctx, it.value)
				if err != nil {
					return fmt.Errorf("resolve %s: %w", it.ref, err)
				}
				it.data = data
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrNilValue) {
			panic(err)
		}
		return err
	}

	for _, it := range b.sets {
		b.w.Set(it.ref, it.data)
	}
	for _, it := range b.creates {
		b.w.Create(it.ref, it.data)
	}
	for _, it := range b.updates {
		b.w.Update(it.ref, it.data)
	}
	for _, ref := range b.deletes {
		b.w.Delete(ref)
	}

	b.sets, b.creates, b.updates, b.deletes = nil, nil, nil, nil
	return nil
}

func resolve(ctx context.Context, value any) ([]byte, error) {
	if fn, ok := value.(func(context.Context) (any, error)); ok {
		value = Pending(fn)
	}
	if pending, ok := value.(Pending); ok {
		if pending == nil {
			return nil, ErrNilValue
		}
		v, err := pending(ctx)
		if err != nil {
			return nil, err
		}
		value = v
	}
	if isNil(value) {
		return nil, ErrNilValue
	}
	switch v := value.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}
