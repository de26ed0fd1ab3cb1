package rewind_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/rewind"
)

func TestMakeApplier(t *testing.T) {
	apply := rewind.MakeApplier(
		func(state *CounterState, ev Incremented) *CounterState {
			return &CounterState{Value: state.Value + ev.By}
		},
	)

	res, err := apply(&CounterState{Value: 1}, &rewind.Record{
		Type:  EventIncremented,
		Event: Incremented{By: 2},
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, res.Value)

	init := &CounterState{Value: 1}
	res, err = apply(init, &rewind.Record{
		Type:  EventIncremented,
		Event: Decremented{By: 2},
	})
	assert.ErrorIs(t, err, rewind.ErrUnexpectedEvent)
	assert.Same(t, init, res)
}

func TestAppliersApply(t *testing.T) {
	res, err := appliers.Apply(&CounterState{Value: 4}, &rewind.Record{
		Type:  EventReset,
		Event: Reset{},
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, res.Value)

	init := &CounterState{Value: 4}
	res, err = appliers.Apply(init, &rewind.Record{
		Type:  "multiplied",
		Event: Incremented{By: 2},
	})
	assert.ErrorIs(t, err, rewind.ErrUnknownEventType)
	assert.Same(t, init, res)
}
