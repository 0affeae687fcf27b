package model

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"
)

// NewID returns a run id. Ids are ULIDs, so they sort by creation time.
func NewID() string {
	return ulid.Make().String()
}

// ParseID validates a run id and returns the time it was created at.
func ParseID(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "run id %q", id)
	}
	return ulid.Time(u.Time()).UTC(), nil
}
