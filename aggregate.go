package rewind

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// Aggregator maintains an aggregate's identity, version, and folded
	// state, and tracks the events raised since the last commit. It is not
	// safe for concurrent use. Concrete aggregates should hold their
	// Aggregator in an unexported field so that only their own domain
	// methods can Raise events
	Aggregator[T any] struct {
		value    T
		appliers Appliers[T]
		clock    Clock
		last     time.Time
		pending  []*Record
		id       ID
		version  Version
	}

	// Aggregate is the view of an aggregate that a Store needs in order to
	// commit it
	Aggregate interface {
		ID() ID
		Version() Version
		Pending() []*Record
		Commit()
	}

	// Factory rebuilds an aggregate of type A by replaying the Records of
	// its history in version order
	Factory[A Aggregate] func([]*Record) (A, error)

	// Clock supplies raise timestamps
	Clock func() time.Time

	// Option configures an Aggregator
	Option func(*aggregatorConfig)

	aggregatorConfig struct {
		clock Clock
	}
)

// TimestampPrecision is the resolution of raise timestamps. It matches the
// coarsest resolution of the supported backends so that a timestamp survives
// a round trip through any of them unchanged
const TimestampPrecision = time.Microsecond

// WithClock overrides the Clock used to stamp raised events
func WithClock(c Clock) Option {
	return func(cfg *aggregatorConfig) {
		cfg.clock = c
	}
}

// New returns a fresh aggregate with the provided identity, at version 0
// and with no pending events
func New[T any](
	id ID, apps Appliers[T], init T, opts ...Option,
) *Aggregator[T] {
	cfg := aggregatorConfig{clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Aggregator[T]{
		id:       id,
		appliers: apps,
		value:    init,
		clock:    cfg.clock,
		pending:  []*Record{},
	}
}

// Rehydrate rebuilds an aggregate by applying persisted Records in order.
// The Records must belong to a single aggregate and carry versions 1..N
// with no gaps; anything else fails with ErrVersionOutOfOrder or
// ErrIdentityMismatch. The result has no pending events
func Rehydrate[T any](
	apps Appliers[T], init T, recs []*Record, opts ...Option,
) (*Aggregator[T], error) {
	a := New(uuid.Nil, apps, init, opts...)
	for _, rec := range recs {
		if err := a.replay(rec); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ID returns the aggregate's identity
func (a *Aggregator[_]) ID() ID {
	return a.id
}

// Version returns the version of the last applied event, or 0
func (a *Aggregator[_]) Version() Version {
	return a.version
}

// NextVersion returns the version the next raised event will carry
func (a *Aggregator[_]) NextVersion() Version {
	return a.version + 1
}

// Value returns the aggregate's current state. Callers must treat it as
// read-only
func (a *Aggregator[T]) Value() T {
	return a.value
}

// Pending returns copies of the events raised since the last Commit, in
// raise order
func (a *Aggregator[_]) Pending() []*Record {
	res := make([]*Record, len(a.pending))
	for i, rec := range a.pending {
		cp := *rec
		res[i] = &cp
	}
	return res
}

// Commit clears the pending events. It does not persist anything
func (a *Aggregator[_]) Commit() {
	a.pending = []*Record{}
}

// Raise applies the event to the aggregate's state and enqueues it as
// pending. If the event cannot be applied, the aggregate is left exactly as
// it was
func (a *Aggregator[T]) Raise(ev Event) error {
	if a.id == uuid.Nil {
		return ErrMissingIdentity
	}
	rec := &Record{
		AggregateID: a.id,
		Version:     a.NextVersion(),
		Timestamp:   a.nextTimestamp(),
		Type:        ev.EventType(),
		Event:       ev,
	}
	val, err := a.appliers.Apply(a.value, rec)
	if err != nil {
		return err
	}
	a.value = val
	a.version = rec.Version
	a.last = rec.Timestamp
	a.pending = append(a.pending, rec)
	return nil
}

func (a *Aggregator[T]) replay(rec *Record) error {
	if rec.Version != a.NextVersion() {
		return fmt.Errorf("%w: expected version %d, got %d",
			ErrVersionOutOfOrder, a.NextVersion(), rec.Version,
		)
	}
	if rec.AggregateID == uuid.Nil {
		return ErrMissingIdentity
	}
	if a.id != uuid.Nil && rec.AggregateID != a.id {
		return fmt.Errorf("%w: %s is not %s",
			ErrIdentityMismatch, rec.AggregateID, a.id,
		)
	}
	val, err := a.appliers.Apply(a.value, rec)
	if err != nil {
		return err
	}
	a.id = rec.AggregateID
	a.value = val
	a.version = rec.Version
	a.last = rec.Timestamp
	return nil
}

// nextTimestamp keeps raise timestamps strictly increasing per aggregate,
// even if the wall clock steps backwards
func (a *Aggregator[_]) nextTimestamp() time.Time {
	ts := a.clock().UTC().Truncate(TimestampPrecision)
	if !ts.After(a.last) {
		ts = a.last.Add(TimestampPrecision)
	}
	return ts
}
