package session

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID creates a unique, lexically sortable session ID. The ID is
// prefixed with "sess_" and uses a lowercase ULID for the random
// component, so listings sort by creation time.
func NewID() string {
	return "sess_" + strings.ToLower(ulid.Make().String())
}
