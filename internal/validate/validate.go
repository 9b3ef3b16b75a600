// Package validate decodes handler payloads, normalizes free text and
// arrays, and checks them against the tracker's limits before any
// transaction starts.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"remember/api/internal/docstore"
	"remember/api/internal/seq"
)

var ErrInvalid = errors.New("invalid payload")

// Payload is implemented by every request type.
type Payload interface {
	Normalize()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("docid", func(fl validator.FieldLevel) bool {
		return docstore.ValidID(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Decode unmarshals data into p, normalizes it and validates it. Unknown
// fields are ignored.
func Decode(data []byte, p Payload) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: missing data", ErrInvalid)
	}
	if err := json.Unmarshal(trimmed, p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	p.Normalize()
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// Text trims s and collapses every whitespace run to one space.
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TextList normalizes every entry and drops repeats.
func TextList(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = Text(v)
	}
	return seq.Dedupe(out)
}
