// Package backendtest is a conformance suite that every rewind.Backend is
// expected to pass
package backendtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/rewind"
	"github.com/kode4food/rewind/inventory"
)

// Opener returns a fresh, empty Backend for a single test
type Opener func(t *testing.T) rewind.Backend

// Epoch is the timestamp of version 0 in envelopes built by Envelopes.
// Version v is stamped Epoch + v seconds
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Envelopes builds n contiguous envelopes for the aggregate starting at the
// provided version
func Envelopes(id rewind.ID, from rewind.Version, n int) []*rewind.Envelope {
	res := make([]*rewind.Envelope, 0, n)
	for i := range n {
		v := from + rewind.Version(i)
		res = append(res, &rewind.Envelope{
			AggregateID: id,
			Version:     v,
			Timestamp:   Epoch.Add(time.Duration(v) * time.Second),
			Type:        "test.bumped",
			Data:        fmt.Appendf(nil, `{"n":%d}`, v),
		})
	}
	return res
}

// Run exercises the Backend contract against Backends produced by open
func Run(t *testing.T, open Opener) {
	t.Run("append and query", func(t *testing.T) {
		testAppendAndQuery(t, open(t))
	})
	t.Run("query by version", func(t *testing.T) {
		testQueryByVersion(t, open(t))
	})
	t.Run("query by time", func(t *testing.T) {
		testQueryByTime(t, open(t))
	})
	t.Run("unknown aggregate", func(t *testing.T) {
		testUnknownAggregate(t, open(t))
	})
	t.Run("version conflicts", func(t *testing.T) {
		testVersionConflicts(t, open(t))
	})
	t.Run("invalid batches", func(t *testing.T) {
		testInvalidBatches(t, open(t))
	})
	t.Run("isolation", func(t *testing.T) {
		testIsolation(t, open(t))
	})
	t.Run("concurrent appends", func(t *testing.T) {
		testConcurrentAppends(t, open(t))
	})
	t.Run("list ids", func(t *testing.T) {
		testListIDs(t, open(t))
	})
	t.Run("inventory store", func(t *testing.T) {
		testInventoryStore(t, open(t))
	})
}

func testAppendAndQuery(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	id := rewind.NewID()

	assert.NoError(t, b.AppendBatch(ctx, nil))
	require.NoError(t, b.AppendBatch(ctx, Envelopes(id, 1, 3)))
	require.NoError(t, b.AppendBatch(ctx, Envelopes(id, 4, 2)))

	evs, err := b.QueryByID(ctx, id)
	require.NoError(t, err)
	want := Envelopes(id, 1, 5)
	require.Len(t, evs, len(want))
	for i, ev := range evs {
		assertEnvelope(t, want[i], ev)
	}
}

func testQueryByVersion(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	id := rewind.NewID()
	require.NoError(t, b.AppendBatch(ctx, Envelopes(id, 1, 5)))

	for _, tc := range []struct {
		ceiling rewind.Version
		count   int
	}{
		{0, 0}, {1, 1}, {3, 3}, {5, 5}, {50, 5},
	} {
		evs, err := b.QueryByVersion(ctx, id, tc.ceiling)
		assert.NoError(t, err)
		assert.Len(t, evs, tc.count, "ceiling %d", tc.ceiling)
		for i, ev := range evs {
			assert.Equal(t, rewind.Version(i+1), ev.Version)
		}
	}
}

func testQueryByTime(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	id := rewind.NewID()
	require.NoError(t, b.AppendBatch(ctx, Envelopes(id, 1, 5)))

	for _, tc := range []struct {
		instant time.Time
		count   int
	}{
		{Epoch, 0},
		{Epoch.Add(time.Second), 1},
		{Epoch.Add(2500 * time.Millisecond), 2},
		{Epoch.Add(time.Hour), 5},
	} {
		evs, err := b.QueryByTime(ctx, id, tc.instant)
		assert.NoError(t, err)
		assert.Len(t, evs, tc.count, "instant %s", tc.instant)
		for i, ev := range evs {
			assert.Equal(t, rewind.Version(i+1), ev.Version)
		}
	}

	loc := time.FixedZone("CET", 60*60)
	evs, err := b.QueryByTime(ctx, id, Epoch.Add(3*time.Second).In(loc))
	assert.NoError(t, err)
	assert.Len(t, evs, 3)
}

func testUnknownAggregate(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	id := rewind.NewID()

	evs, err := b.QueryByID(ctx, id)
	assert.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = b.QueryByVersion(ctx, id, 10)
	assert.NoError(t, err)
	assert.Empty(t, evs)

	evs, err = b.QueryByTime(ctx, id, time.Now())
	assert.NoError(t, err)
	assert.Empty(t, evs)
}

func testVersionConflicts(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	id := rewind.NewID()
	require.NoError(t, b.AppendBatch(ctx, Envelopes(id, 1, 2)))

	err := b.AppendBatch(ctx, Envelopes(id, 2, 2))
	assert.ErrorIs(t, err, rewind.ErrVersionConflict, "duplicate")

	err = b.AppendBatch(ctx, Envelopes(id, 4, 1))
	assert.ErrorIs(t, err, rewind.ErrVersionConflict, "gap")

	err = b.AppendBatch(ctx, Envelopes(rewind.NewID(), 2, 1))
	assert.ErrorIs(t, err, rewind.ErrVersionConflict, "missing first")

	evs, err := b.QueryByID(ctx, id)
	assert.NoError(t, err)
	assert.Len(t, evs, 2)
}

func testInvalidBatches(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	id := rewind.NewID()

	mixed := append(Envelopes(id, 1, 1), Envelopes(rewind.NewID(), 2, 1)...)
	assert.ErrorIs(t, b.AppendBatch(ctx, mixed), rewind.ErrIdentityMismatch)

	gapped := Envelopes(id, 1, 3)
	gapped[2].Version = 5
	assert.ErrorIs(t, b.AppendBatch(ctx, gapped), rewind.ErrVersionConflict)

	untyped := Envelopes(id, 1, 2)
	untyped[1].Type = ""
	assert.ErrorIs(t, b.AppendBatch(ctx, untyped), rewind.ErrInvalidEnvelope)

	anonymous := Envelopes(uuid.Nil, 1, 1)
	assert.ErrorIs(t, b.AppendBatch(ctx, anonymous), rewind.ErrInvalidEnvelope)

	evs, err := b.QueryByID(ctx, id)
	assert.NoError(t, err)
	assert.Empty(t, evs)
}

func testIsolation(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	first, second := rewind.NewID(), rewind.NewID()
	require.NoError(t, b.AppendBatch(ctx, Envelopes(first, 1, 3)))
	require.NoError(t, b.AppendBatch(ctx, Envelopes(second, 1, 1)))

	evs, err := b.QueryByID(ctx, first)
	assert.NoError(t, err)
	assert.Len(t, evs, 3)

	evs, err = b.QueryByID(ctx, second)
	assert.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, second, evs[0].AggregateID)
}

func testConcurrentAppends(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	id := rewind.NewID()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.AppendBatch(ctx, Envelopes(id, 1, 2))
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, rewind.ErrVersionConflict)
	}
	assert.Equal(t, 1, wins)

	evs, err := b.QueryByID(ctx, id)
	assert.NoError(t, err)
	assert.Len(t, evs, 2)
}

func testListIDs(t *testing.T, b rewind.Backend) {
	l, ok := b.(rewind.Lister)
	if !ok {
		t.Skip("backend does not list aggregates")
	}

	ctx := context.Background()
	ids, err := l.ListIDs(ctx)
	assert.NoError(t, err)
	assert.Empty(t, ids)

	first, second := rewind.NewID(), rewind.NewID()
	require.NoError(t, b.AppendBatch(ctx, Envelopes(first, 1, 2)))
	require.NoError(t, b.AppendBatch(ctx, Envelopes(second, 1, 1)))

	ids, err = l.ListIDs(ctx)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []rewind.ID{first, second}, ids)
}

func testInventoryStore(t *testing.T, b rewind.Backend) {
	ctx := context.Background()
	store := inventory.NewStore(b)

	t1 := time.Now().Add(-time.Hour).Truncate(time.Second)
	times := []time.Time{t1, t1.Add(time.Minute), t1.Add(2 * time.Minute)}
	clock := func() time.Time {
		res := times[0]
		times = times[1:]
		return res
	}

	inv, err := inventory.Create(rewind.WithClock(clock))
	require.NoError(t, err)
	product := uuid.New()
	require.NoError(t, inv.AddProduct(product, 10))
	require.NoError(t, inv.RemoveProduct(product, 4))
	require.NoError(t, store.Commit(ctx, inv))

	latest, err := store.GetByID(ctx, inv.ID())
	require.NoError(t, err)
	assert.Equal(t, rewind.Version(3), latest.Version())
	assert.Equal(t, 6, latest.ProductCount(product))

	v2, err := store.GetByVersion(ctx, inv.ID(), 2)
	require.NoError(t, err)
	assert.Equal(t, 10, v2.ProductCount(product))

	atT1, err := store.GetByTime(ctx, inv.ID(), t1)
	require.NoError(t, err)
	assert.Equal(t, rewind.Version(1), atT1.Version())
	assert.Equal(t, 0, atT1.ProductCount(product))

	recs, err := store.History(ctx, inv.ID())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[1].Timestamp.Equal(t1.Add(time.Minute)))
	assert.Equal(t, inventory.ProductAdded{
		ProductID: product,
		Quantity:  10,
	}, recs[1].Event)

	_, err = store.GetByID(ctx, rewind.NewID())
	assert.ErrorIs(t, err, rewind.ErrNotFound)
}

func assertEnvelope(t *testing.T, want, got *rewind.Envelope) {
	t.Helper()
	assert.Equal(t, want.AggregateID, got.AggregateID)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Type, got.Type)
	assert.True(t, want.Timestamp.Equal(got.Timestamp),
		"timestamp %s != %s", want.Timestamp, got.Timestamp,
	)
	assert.JSONEq(t, string(want.Data), string(got.Data))
}
