package rewind

import "fmt"

type (
	// Applier folds a single Record into a state value and returns the
	// resulting state. Appliers must not mutate the state they receive
	Applier[T any] func(T, *Record) (T, error)

	// Appliers is the closed set of Appliers for one aggregate type, keyed
	// by the EventType each one handles
	Appliers[T any] map[EventType]Applier[T]
)

// MakeApplier adapts a typed fold function into an Applier. The resulting
// Applier fails with ErrUnexpectedEvent if the Record carries a different
// Event type
func MakeApplier[T any, E Event](fn func(T, E) T) Applier[T] {
	return func(val T, rec *Record) (T, error) {
		ev, ok := rec.Event.(E)
		if !ok {
			return val, fmt.Errorf("%w: %s carries %T",
				ErrUnexpectedEvent, rec.Type, rec.Event,
			)
		}
		return fn(val, ev), nil
	}
}

// Apply dispatches the Record to the Applier registered for its type.
// Dispatch is total: a type with no Applier is an error, never a no-op
func (a Appliers[T]) Apply(val T, rec *Record) (T, error) {
	apply, ok := a[rec.Type]
	if !ok {
		return val, fmt.Errorf("%w: %s", ErrUnknownEventType, rec.Type)
	}
	return apply(val, rec)
}
