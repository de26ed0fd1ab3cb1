package rewind

import (
	"context"
	"time"
)

// Backend is the durable, append-only event log behind a Store. Every query
// returns the matching Envelopes of one aggregate in ascending version order
// and returns an empty result, not an error, when nothing matches
type Backend interface {
	// AppendBatch durably appends the Envelopes of a single aggregate. The
	// whole batch becomes visible or none of it does. A batch whose first
	// version does not immediately follow the stored latest version fails
	// with ErrVersionConflict
	AppendBatch(context.Context, []*Envelope) error

	// QueryByID returns every Envelope stored for the aggregate
	QueryByID(context.Context, ID) ([]*Envelope, error)

	// QueryByVersion returns the Envelopes with a version <= the ceiling
	QueryByVersion(context.Context, ID, Version) ([]*Envelope, error)

	// QueryByTime returns the Envelopes with a timestamp <= the instant
	QueryByTime(context.Context, ID, time.Time) ([]*Envelope, error)
}

// SelectTime returns the Envelopes of a version-ordered slice whose
// timestamps are <= the instant
func SelectTime(evs []*Envelope, instant time.Time) []*Envelope {
	res := make([]*Envelope, 0, len(evs))
	for _, ev := range evs {
		if !ev.Timestamp.After(instant) {
			res = append(res, ev)
		}
	}
	return res
}

// Lister is implemented by Backends that can enumerate the aggregates they
// hold
type Lister interface {
	ListIDs(context.Context) ([]ID, error)
}
