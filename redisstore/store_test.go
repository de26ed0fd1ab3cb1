package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kode4food/rewind"
	"github.com/kode4food/rewind/internal/backendtest"
	"github.com/kode4food/rewind/redisstore"
)

func newStore(
	t *testing.T, opts ...redisstore.Option,
) (*miniredis.Miniredis, *redisstore.Store) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	cfg := redisstore.DefaultConfig()
	cfg.Addr = server.Addr()
	store, err := redisstore.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return server, store
}

func TestBackend(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) rewind.Backend {
		_, store := newStore(t)
		return store
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := redisstore.DefaultConfig()
	assert.Equal(t, redisstore.DefaultRedisEndpoint, cfg.Addr)
	assert.Equal(t, redisstore.DefaultRedisPrefix, cfg.Prefix)
	assert.Equal(t, redisstore.DefaultConnectTimeout, cfg.ConnectTimeout)
}

func TestNewUnreachable(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	addr := server.Addr()
	server.Close()

	cfg := redisstore.DefaultConfig()
	cfg.Addr = addr
	cfg.ConnectTimeout = 200 * time.Millisecond
	_, err = redisstore.New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestKeyLayout(t *testing.T) {
	server, store := newStore(t)
	ctx := context.Background()
	id := rewind.NewID()

	require.NoError(t, store.AppendBatch(ctx, backendtest.Envelopes(id, 1, 3)))

	key := "rewind:" + id.String() + ":events"
	items, err := server.List(key)
	assert.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Contains(t, items[0], `"aggregate_id":"`+id.String()+`"`)
	assert.Contains(t, items[0], `"version":1`)
}

func TestPrefixIsolation(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	ctx := context.Background()
	orders := redisstore.NewFromClient(
		redis.NewClient(&redis.Options{Addr: server.Addr()}), "orders",
	)
	defer func() { _ = orders.Close() }()
	stock := redisstore.NewFromClient(
		redis.NewClient(&redis.Options{Addr: server.Addr()}), "stock",
	)
	defer func() { _ = stock.Close() }()

	id := rewind.NewID()
	require.NoError(t, orders.AppendBatch(ctx, backendtest.Envelopes(id, 1, 2)))

	evs, err := stock.QueryByID(ctx, id)
	assert.NoError(t, err)
	assert.Empty(t, evs)

	ids, err := stock.ListIDs(ctx)
	assert.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = orders.ListIDs(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []rewind.ID{id}, ids)
}

func TestLargeBatch(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()
	id := rewind.NewID()

	require.NoError(t, store.AppendBatch(ctx, backendtest.Envelopes(id, 1, 300)))
	evs, err := store.QueryByVersion(ctx, id, 257)
	assert.NoError(t, err)
	assert.Len(t, evs, 257)
	assert.Equal(t, rewind.Version(257), evs[256].Version)
}

func TestConflictIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	_, store := newStore(t, redisstore.WithLogger(zap.New(core)))
	ctx := context.Background()
	id := rewind.NewID()

	require.NoError(t, store.AppendBatch(ctx, backendtest.Envelopes(id, 1, 2)))
	err := store.AppendBatch(ctx, backendtest.Envelopes(id, 2, 1))
	assert.ErrorIs(t, err, rewind.ErrVersionConflict)
	assert.Contains(t, err.Error(), "but at 2")

	entries := logs.FilterMessage("version conflict").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["actual"])
}

func TestCorruptEntry(t *testing.T) {
	server, store := newStore(t)
	ctx := context.Background()
	id := rewind.NewID()

	_, err := server.Push("rewind:"+id.String()+":events", "not json")
	require.NoError(t, err)

	_, err = store.QueryByID(ctx, id)
	assert.Error(t, err)
}

func TestParseAppendResult(t *testing.T) {
	ok, length, err := redisstore.ParseAppendResult([]any{int64(1), int64(4)})
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), length)

	ok, length, err = redisstore.ParseAppendResult([]any{int64(0), int64(2)})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), length)

	for _, bad := range []any{
		"OK",
		[]any{int64(1)},
		[]any{"1", int64(4)},
		[]any{int64(1), "4"},
		[]any{int64(1), int64(4), int64(0)},
	} {
		_, _, err := redisstore.ParseAppendResult(bad)
		assert.ErrorIs(t, err, redisstore.ErrUnexpectedLuaResult, "%v", bad)
	}
}
