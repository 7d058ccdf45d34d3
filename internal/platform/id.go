package platform

import (
	"github.com/google/uuid"
)

// NewID returns a random identifier for a new row.
func NewID() string {
	return uuid.New().String()
}

// ValidID reports whether s has the shape of an identifier made by NewID.
func ValidID(s string) bool {
	return uuid.Validate(s) == nil
}
