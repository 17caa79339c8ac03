// Package security provides identifier generation helpers.
package security

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// GenerateULID generates a new ULID string. ULIDs sort by creation time,
// which keeps the append-only event table in insert order.
func GenerateULID() string {
	return ulid.Make().String()
}

// GenerateSessionID generates a new random session identifier.
func GenerateSessionID() string {
	return uuid.NewString()
}
