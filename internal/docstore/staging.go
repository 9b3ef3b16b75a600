package docstore

import (
	"encoding/json"
	"fmt"
)

type WriteKind int

const (
	WriteSet WriteKind = iota + 1
	WriteCreate
	WriteUpdate
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteSet:
		return "set"
	case WriteCreate:
		return "create"
	case WriteUpdate:
		return "update"
	case WriteDelete:
		return "delete"
	}
	return "unknown"
}

type Write struct {
	Kind WriteKind
	Ref  Ref
	Data []byte
}

// Staging collects the writes of a transaction. Backends embed it to get the
// write half of Tx.
type Staging struct {
	writes []Write
}

func (s *Staging) Set(ref Ref, data []byte)    { s.stage(WriteSet, ref, data) }
func (s *Staging) Create(ref Ref, data []byte) { s.stage(WriteCreate, ref, data) }
func (s *Staging) Update(ref Ref, data []byte) { s.stage(WriteUpdate, ref, data) }
func (s *Staging) Delete(ref Ref)              { s.stage(WriteDelete, ref, nil) }

func (s *Staging) stage(kind WriteKind, ref Ref, data []byte) {
	s.writes = append(s.writes, Write{Kind: kind, Ref: ref, Data: data})
}

func (s *Staging) Writes() []Write { return s.writes }
func (s *Staging) HasWrites() bool { return len(s.writes) > 0 }

// CheckRead fails once any write has been staged.
func (s *Staging) CheckRead(ref Ref) error {
	if s.HasWrites() {
		return fmt.Errorf("%w: %s", ErrReadAfterWrite, ref)
	}
	return nil
}

// State is the committed outcome for one document.
type State struct {
	Ref     Ref
	Data    []byte
	Deleted bool
}

// LookupFunc reads the current stored value of a document.
type LookupFunc func(ref Ref) (data []byte, exists bool, err error)

// Resolve replays writes in order over the stored state and returns the final
// state of every touched document, in first-touch order. Create and update
// preconditions are checked against earlier writes of the same transaction
// as well as the store.
func Resolve(writes []Write, lookup LookupFunc) ([]State, error) {
	type overlay struct {
		data   []byte
		exists bool
	}
	touched := make(map[string]*overlay, len(writes))
	order := make([]Ref, 0, len(writes))

	current := func(ref Ref) (*overlay, error) {
		if o, ok := touched[ref.path]; ok {
			return o, nil
		}
		data, exists, err := lookup(ref)
		if err != nil {
			return nil, err
		}
		o := &overlay{data: data, exists: exists}
		touched[ref.path] = o
		order = append(order, ref)
		return o, nil
	}

	for _, w := range writes {
		o, err := current(w.Ref)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", w.Ref, err)
		}
		switch w.Kind {
		case WriteSet:
			o.data, o.exists = w.Data, true
		case WriteCreate:
			if o.exists {
				return nil, fmt.Errorf("create %s: %w", w.Ref, ErrAlreadyExists)
			}
			o.data, o.exists = w.Data, true
		case WriteUpdate:
			if !o.exists {
				return nil, fmt.Errorf("update %s: %w", w.Ref, ErrNotFound)
			}
			merged, err := MergeFields(o.data, w.Data)
			if err != nil {
				return nil, fmt.Errorf("update %s: %w", w.Ref, err)
			}
			o.data = merged
		case WriteDelete:
			o.data, o.exists = nil, false
		default:
			return nil, fmt.Errorf("unknown write kind %d for %s", w.Kind, w.Ref)
		}
	}

	states := make([]State, 0, len(order))
	for _, ref := range order {
		o := touched[ref.path]
		states = append(states, State{Ref: ref, Data: o.data, Deleted: !o.exists})
	}
	return states, nil
}

// MergeFields applies the top-level fields of patch onto base. Fields whose
// patch value is null are removed.
func MergeFields(base, patch []byte) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, fmt.Errorf("decode stored document: %w", err)
		}
	}
	var changes map[string]json.RawMessage
	if err := json.Unmarshal(patch, &changes); err != nil {
		return nil, fmt.Errorf("decode update fields: %w", err)
	}
	for key, value := range changes {
		if string(value) == "null" {
			delete(fields, key)
			continue
		}
		fields[key] = value
	}
	return json.Marshal(fields)
}
