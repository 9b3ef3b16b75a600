package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random 32 character document id. Document ids end up as
// path segments, so the uuid dashes are dropped.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
