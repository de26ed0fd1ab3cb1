// Package rewind implements the core of an event-sourcing system. An
// aggregate's state is never stored directly: every change is recorded as an
// immutable event, and state is derived by replaying those events in version
// order. Because the log is never rewritten, any aggregate can be rebuilt as
// it stood at an earlier version or at an earlier point in time.
//
// Typical usage looks like:
//   - Define a closed set of Event types and an Applier for each
//   - Wrap an Aggregator in a domain type whose methods validate and Raise
//   - Register the Event types with a Registry
//   - Create a Store over a Backend (memory, redisstore, boltstore, pgstore)
//   - Commit aggregates and load them with GetByID, GetByVersion, GetByTime
//
// The inventory package contains a complete stock-tracking aggregate built
// this way.
package rewind
