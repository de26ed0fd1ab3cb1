package rewind

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a load matches no stored events
	ErrNotFound = errors.New("aggregate not found")

	// ErrUnknownEventType indicates an event type with no applier or no
	// registered decoder. It signals a data/code mismatch
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrUnexpectedEvent indicates an applier received an event value of a
	// different shape than it was built for
	ErrUnexpectedEvent = errors.New("unexpected event value")

	// ErrVersionOutOfOrder indicates a replayed sequence that is not
	// strictly ascending and gapless
	ErrVersionOutOfOrder = errors.New("event version out of order")

	// ErrVersionConflict indicates an append that would leave a gap or a
	// duplicate in an aggregate's stored versions
	ErrVersionConflict = errors.New("version conflict")

	// ErrIdentityMismatch indicates events that belong to more than one
	// aggregate where a single one was expected
	ErrIdentityMismatch = errors.New("aggregate identity mismatch")

	// ErrMissingIdentity indicates an event raised on an aggregate that has
	// no identity
	ErrMissingIdentity = errors.New("aggregate has no identity")

	// ErrInvalidEnvelope indicates an Envelope that cannot be stored
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrAppendFailed wraps backend failures during Commit
	ErrAppendFailed = errors.New("appending events failed")

	// ErrQueryFailed wraps backend failures during loads
	ErrQueryFailed = errors.New("querying events failed")
)

// NotFoundError reports the identity that a load could not find
type NotFoundError struct {
	ID ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotFound, e.ID)
}

// Is lets errors.Is match a NotFoundError against ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
