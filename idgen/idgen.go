// Package idgen generates time-sortable identifiers for Sources, Articles,
// and error log records.
package idgen

import "github.com/oklog/ulid/v2"

// New returns a new lexicographically-sortable ULID string.
func New() string {
	return ulid.Make().String()
}
