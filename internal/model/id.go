package model

import "github.com/oklog/ulid/v2"

// NewID returns a fresh ULID. Targets, definitions, jobs, and rules all use
// ULIDs so their ids sort by creation time.
func NewID() string {
	return ulid.Make().String()
}
