// Package idgen provides ID generation utilities for the application.
// It encapsulates the ID generation implementation, making it easy to change
// the underlying ID generation strategy in the future.
package idgen

import (
	"github.com/rs/xid"
)

// NewID generates a new globally unique, sortable identifier.
// Returns a 20-character string using xid format.
// The generated ID is:
// - Globally unique
// - Sortable by creation time
// - URL-safe (base32 encoded)
// - 20 characters long
func NewID() string {
	return xid.New().String()
}

// NewRunID generates a unique ID for analysis run records.
// Currently an alias for NewID, but can be customized in the future
// (e.g., adding a prefix like "run_" for better identification).
func NewRunID() string {
	return NewID()
}

// NewSessionID generates a unique ID for chat sessions.
func NewSessionID() string {
	return NewID()
}

// NewRequestID generates a unique ID for request tracking.
func NewRequestID() string {
	return NewID()
}
