package utils

import (
	"github.com/google/uuid"
)

// NewID returns a random unique identifier, used for sessions and events.
func NewID() string {
	return uuid.NewString()
}

// NewOrderedID returns a time-ordered unique identifier (UUIDv7).
// IDs generated later sort after earlier ones.
func NewOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random ID if the clock source fails.
		return uuid.NewString()
	}
	return id.String()
}
