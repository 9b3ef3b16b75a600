package envelope

import (
	"encoding/json"
	"fmt"

	"remember/api/internal/model"
)

// Decoded is the result of decrypting one document. When Err is set, Value
// holds the entity's empty default and the stored document could not be read.
type Decoded[T any] struct {
	Value T
	Err   error
}

func (d Decoded[T]) OK() bool { return d.Err == nil }

func fallback[T any](empty T, err error) Decoded[T] {
	return Decoded[T]{Value: empty, Err: err}
}

// Document is the stored shape of an entity encrypted as a whole.
type Document struct {
	Value string `json:"value"`
}

// UserDocument keeps account flags readable so a disabled account stays
// disabled even when its payload cannot be decrypted.
type UserDocument struct {
	Value       string `json:"value"`
	Initialized bool   `json:"initialized,omitempty"`
	IsDarkMode  bool   `json:"isDarkMode,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
}

type userPayload struct {
	RoundsIDs []string `json:"roundsIds"`
	PhotoURL  string   `json:"photoUrl,omitempty"`
}

// TodayTaskDocument stores the description encrypted and every label key
// encrypted on its own; the done flags stay plain.
type TodayTaskDocument struct {
	Description string          `json:"description"`
	TimesOfDay  map[string]bool `json:"timesOfDay"`
}

func (k *Key) sealWhole(v any) ([]byte, error) {
	value, err := k.EncryptJSON(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Document{Value: value})
}

func (k *Key) openWhole(raw []byte, v any) error {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Value == "" {
		return fmt.Errorf("%w: missing value", ErrMalformed)
	}
	return k.DecryptJSON(doc.Value, v)
}

func (k *Key) EncryptRound(r model.Round) ([]byte, error) { return k.sealWhole(r) }
func (k *Key) EncryptTask(t model.Task) ([]byte, error)   { return k.sealWhole(t) }
func (k *Key) EncryptToday(t model.Today) ([]byte, error) { return k.sealWhole(t) }

// DecryptRound falls back to a round with no name, labels or tasks.
func (k *Key) DecryptRound(raw []byte) Decoded[model.Round] {
	var r model.Round
	if err := k.openWhole(raw, &r); err != nil {
		return fallback(model.Round{}, err)
	}
	return Decoded[model.Round]{Value: r}
}

// DecryptTask falls back to a task with no description, days or labels.
func (k *Key) DecryptTask(raw []byte) Decoded[model.Task] {
	var t model.Task
	if err := k.openWhole(raw, &t); err != nil {
		return fallback(model.Task{}, err)
	}
	return Decoded[model.Task]{Value: t}
}

// DecryptToday falls back to a today listing no tasks.
func (k *Key) DecryptToday(raw []byte) Decoded[model.Today] {
	var t model.Today
	if err := k.openWhole(raw, &t); err != nil {
		return fallback(model.Today{}, err)
	}
	return Decoded[model.Today]{Value: t}
}

func (k *Key) EncryptUser(u model.User) ([]byte, error) {
	value, err := k.EncryptJSON(userPayload{RoundsIDs: nonNil(u.RoundsIDs), PhotoURL: u.PhotoURL})
	if err != nil {
		return nil, err
	}
	return json.Marshal(UserDocument{
		Value:       value,
		Initialized: u.Initialized,
		IsDarkMode:  u.IsDarkMode,
		Disabled:    u.Disabled,
	})
}

// DecryptUser falls back to a user without rounds or photo; the plain flags
// are kept whenever the document itself parses.
func (k *Key) DecryptUser(raw []byte) Decoded[model.User] {
	var doc UserDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fallback(model.User{}, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	u := model.User{Initialized: doc.Initialized, IsDarkMode: doc.IsDarkMode, Disabled: doc.Disabled}
	if doc.Value == "" {
		// Accounts start without a payload.
		return Decoded[model.User]{Value: u}
	}
	var payload userPayload
	if err := k.DecryptJSON(doc.Value, &payload); err != nil {
		return fallback(u, err)
	}
	u.RoundsIDs = payload.RoundsIDs
	u.PhotoURL = payload.PhotoURL
	return Decoded[model.User]{Value: u}
}

// EncryptTodayTask reuses t.LabelKeys for labels it already holds and
// encrypts new labels under fresh keys. The returned map is the complete
// label to key correspondence of the written document.
func (k *Key) EncryptTodayTask(t model.TodayTask) ([]byte, map[string]string, error) {
	description, err := k.EncryptString(t.Description)
	if err != nil {
		return nil, nil, err
	}
	keys := make(map[string]string, len(t.TimesOfDay))
	flags := make(map[string]bool, len(t.TimesOfDay))
	for label, done := range t.TimesOfDay {
		key, ok := t.LabelKeys[label]
		if !ok {
			if key, err = k.EncryptString(label); err != nil {
				return nil, nil, err
			}
		}
		keys[label] = key
		flags[key] = done
	}
	data, err := json.Marshal(TodayTaskDocument{Description: description, TimesOfDay: flags})
	if err != nil {
		return nil, nil, err
	}
	return data, keys, nil
}

// DecryptTodayTask falls back to a record with no description and no labels.
func (k *Key) DecryptTodayTask(raw []byte) Decoded[model.TodayTask] {
	empty := model.TodayTask{TimesOfDay: map[string]bool{}, LabelKeys: map[string]string{}}

	var doc TodayTaskDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fallback(empty, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	description, err := k.DecryptString(doc.Description)
	if err != nil {
		return fallback(empty, err)
	}
	t := model.TodayTask{
		Description: description,
		TimesOfDay:  make(map[string]bool, len(doc.TimesOfDay)),
		LabelKeys:   make(map[string]string, len(doc.TimesOfDay)),
	}
	for key, done := range doc.TimesOfDay {
		label, err := k.DecryptString(key)
		if err != nil {
			return fallback(empty, fmt.Errorf("label key: %w", err))
		}
		t.TimesOfDay[label] = done
		t.LabelKeys[label] = key
	}
	return Decoded[model.TodayTask]{Value: t}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
