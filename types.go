package rewind

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// ID identifies a single aggregate instance
	ID = uuid.UUID

	// Version is an aggregate's position in its own history. The first
	// event of an aggregate carries Version 1
	Version int64

	// EventType is the discriminator used to resolve an event's shape
	EventType string

	// Event is a domain event value. Concrete aggregates define a closed
	// set of these, one Go type per EventType
	Event interface {
		EventType() EventType
	}

	// Record is a decoded Event together with its position in an
	// aggregate's history
	Record struct {
		Timestamp   time.Time
		Event       Event
		Type        EventType
		AggregateID ID
		Version     Version
	}

	// Envelope is the persisted form of a Record. Envelopes are keyed
	// uniquely by (AggregateID, Version) and are never mutated once
	// appended
	Envelope struct {
		Timestamp   time.Time       `json:"timestamp"`
		Type        EventType       `json:"type"`
		Data        json.RawMessage `json:"data"`
		AggregateID ID              `json:"aggregate_id"`
		Version     Version         `json:"version"`
	}
)

// NewID returns a fresh, time-ordered aggregate identifier
func NewID() ID {
	return uuid.Must(uuid.NewV7())
}

// ParseID parses the canonical string form of an ID
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// Validate checks that an Envelope is addressable and typed
func (e *Envelope) Validate() error {
	if e.AggregateID == uuid.Nil {
		return fmt.Errorf("%w: missing aggregate id", ErrInvalidEnvelope)
	}
	if e.Version < 1 {
		return fmt.Errorf("%w: version %d", ErrInvalidEnvelope, e.Version)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: missing event type", ErrInvalidEnvelope)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEnvelope)
	}
	return nil
}

// CheckBatch verifies that a batch of Envelopes addresses a single aggregate
// and carries contiguous, ascending versions. Backends call it before any
// write
func CheckBatch(evs []*Envelope) error {
	if len(evs) == 0 {
		return nil
	}
	first := evs[0]
	for i, ev := range evs {
		if err := ev.Validate(); err != nil {
			return err
		}
		if ev.AggregateID != first.AggregateID {
			return ErrIdentityMismatch
		}
		if want := first.Version + Version(i); ev.Version != want {
			return fmt.Errorf("%w: expected version %d, got %d",
				ErrVersionConflict, want, ev.Version,
			)
		}
	}
	return nil
}
