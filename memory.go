package rewind

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend for tests and short-lived tools.
// It is safe for concurrent use
type MemoryBackend struct {
	streams map[ID][]Envelope
	mu      sync.RWMutex
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Lister  = (*MemoryBackend)(nil)
)

// NewMemoryBackend returns an empty MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		streams: map[ID][]Envelope{},
	}
}

func (m *MemoryBackend) AppendBatch(_ context.Context, evs []*Envelope) error {
	if len(evs) == 0 {
		return nil
	}
	if err := CheckBatch(evs); err != nil {
		return err
	}

	id := evs[0].AggregateID
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[id]
	latest := Version(len(stream))
	if evs[0].Version != latest+1 {
		return fmt.Errorf("%w: expected version %d, but at %d",
			ErrVersionConflict, evs[0].Version-1, latest,
		)
	}
	for _, ev := range evs {
		stream = append(stream, *ev)
	}
	m.streams[id] = stream
	return nil
}

func (m *MemoryBackend) QueryByID(
	_ context.Context, id ID,
) ([]*Envelope, error) {
	return m.query(id, func(*Envelope) bool { return true }), nil
}

func (m *MemoryBackend) QueryByVersion(
	_ context.Context, id ID, ceiling Version,
) ([]*Envelope, error) {
	return m.query(id, func(ev *Envelope) bool {
		return ev.Version <= ceiling
	}), nil
}

func (m *MemoryBackend) QueryByTime(
	_ context.Context, id ID, instant time.Time,
) ([]*Envelope, error) {
	return m.query(id, func(ev *Envelope) bool {
		return !ev.Timestamp.After(instant)
	}), nil
}

// ListIDs returns the identities of every stored aggregate, in no
// particular order
func (m *MemoryBackend) ListIDs(context.Context) ([]ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Collect(maps.Keys(m.streams)), nil
}

// Len returns the number of Envelopes stored for the aggregate
func (m *MemoryBackend) Len(id ID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[id])
}

func (m *MemoryBackend) query(id ID, match func(*Envelope) bool) []*Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[id]
	res := make([]*Envelope, 0, len(stream))
	for i := range stream {
		if match(&stream[i]) {
			ev := stream[i]
			res = append(res, &ev)
		}
	}
	return res
}
