package rewind_test

import (
	"time"

	"github.com/kode4food/rewind"
)

type (
	CounterState struct {
		Value int `json:"value"`
	}

	Incremented struct {
		By int `json:"by"`
	}

	Decremented struct {
		By int `json:"by"`
	}

	Reset struct{}

	Counter struct {
		*rewind.Aggregator[*CounterState]
	}
)

const (
	EventIncremented rewind.EventType = "incremented"
	EventDecremented rewind.EventType = "decremented"
	EventReset       rewind.EventType = "reset"
)

var appliers = rewind.Appliers[*CounterState]{
	EventIncremented: rewind.MakeApplier(
		func(state *CounterState, ev Incremented) *CounterState {
			res := *state
			res.Value = state.Value + ev.By
			return &res
		},
	),
	EventDecremented: rewind.MakeApplier(
		func(state *CounterState, ev Decremented) *CounterState {
			res := *state
			res.Value = state.Value - ev.By
			return &res
		},
	),
	EventReset: rewind.MakeApplier(
		func(*CounterState, Reset) *CounterState {
			return &CounterState{}
		},
	),
}

func (Incremented) EventType() rewind.EventType { return EventIncremented }
func (Decremented) EventType() rewind.EventType { return EventDecremented }
func (Reset) EventType() rewind.EventType       { return EventReset }

func newCounter(opts ...rewind.Option) *Counter {
	return &Counter{
		rewind.New(rewind.NewID(), appliers, &CounterState{}, opts...),
	}
}

func rehydrateCounter(recs []*rewind.Record) (*Counter, error) {
	ag, err := rewind.Rehydrate(appliers, &CounterState{}, recs)
	if err != nil {
		return nil, err
	}
	return &Counter{ag}, nil
}

func counterRegistry() *rewind.Registry {
	r := rewind.NewRegistry()
	rewind.Register[Incremented](r)
	rewind.Register[Decremented](r)
	rewind.Register[Reset](r)
	return r
}

func newCounterStore(b rewind.Backend) *rewind.Store[*Counter] {
	return rewind.NewStore(b, counterRegistry(), rehydrateCounter)
}

// fixedClock returns the same instant on every call
func fixedClock(at time.Time) rewind.Clock {
	return func() time.Time { return at }
}

// steppingClock advances by step after every call
func steppingClock(start time.Time, step time.Duration) rewind.Clock {
	next := start
	return func() time.Time {
		res := next
		next = next.Add(step)
		return res
	}
}
