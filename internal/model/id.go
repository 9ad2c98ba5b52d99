package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as an operation identifier.
// ULIDs sort lexicographically by creation time, which keeps list queries
// ordered without a separate sequence column.
func NewID() string {
	return ulid.Make().String()
}
