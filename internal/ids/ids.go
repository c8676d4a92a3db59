// Package ids provides the 128-bit identifiers used for every entity in the
// state entity data model (spec.md §3: "all ids are 128-bit UUIDs").
package ids

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// ID is a 128-bit entity identifier.
type ID = uuid.UUID

// New allocates a fresh random entity id.
func New() ID { return uuid.New() }

// Parse parses the canonical string form of an id.
func Parse(s string) (ID, error) { return uuid.Parse(s) }

// CanonicalHex renders id as lowercase hex of its 16 raw bytes, with no
// surrounding whitespace. This is the canonical encoding spec.md §9 pins for
// use inside SwapToken.ToMessage and similar commitment messages.
func CanonicalHex(id ID) string {
	b := [16]byte(id)
	return hex.EncodeToString(b[:])
}
