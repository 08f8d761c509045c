// Package idgen produces the opaque execution identifiers a Template keys
// its context store by. The core engine never inspects an id's structure,
// only compares it for equality, so callers are free to register their own
// Source.
package idgen

import "github.com/google/uuid"

// Source mints unique identifiers. Implementations must be safe for
// concurrent use.
type Source interface {
	New() string
}

// UUIDSource produces RFC 4122 random UUIDs.
type UUIDSource struct{}

// New returns a fresh UUIDv4 string.
func (UUIDSource) New() string {
	return uuid.New().String()
}
