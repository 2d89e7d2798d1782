package graph

import "github.com/google/uuid"

// IDGenerator mints identifiers for branches and version rows.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues UUIDv7 identifiers. UUIDv7 is time-sortable, which
// keeps id order roughly aligned with insertion order in debugging output.
type UUIDGenerator struct{}

// NewID returns a new UUIDv7 string.
func (UUIDGenerator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
