package tenant

import (
	"errors"
	"regexp"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when a tenant identifier is not a canonical UUID.
var ErrInvalidID = errors.New("tenant id must be a canonical uuid")

// uuid.Parse also accepts braces, urn prefixes and undashed forms; tenant ids only
// come in the 8-4-4-4-12 shape.
var canonicalUUID = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ParseID validates and parses a tenant identifier.
func ParseID(raw string) (uuid.UUID, error) {
	if !canonicalUUID.MatchString(raw) {
		return uuid.Nil, ErrInvalidID
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}
