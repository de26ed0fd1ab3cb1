package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kode4food/rewind"
	"github.com/kode4food/rewind/inventory"
)

type harness struct {
	t       *testing.T
	backend *rewind.MemoryBackend
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:       t,
		backend: rewind.NewMemoryBackend(),
	}
}

func (h *harness) run(args ...string) (string, error) {
	out := &bytes.Buffer{}
	a := &app{
		out:     out,
		logger:  zap.NewNop(),
		backend: h.backend,
	}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) view(args ...string) inventoryView {
	out, err := h.run(append(args, "--json")...)
	require.NoError(h.t, err)
	var res inventoryView
	require.NoError(h.t, jsonCodec.UnmarshalFromString(out, &res))
	return res
}

func TestCreateAndShow(t *testing.T) {
	h := newHarness(t)

	created := h.view("create")
	assert.Equal(t, rewind.Version(1), created.Version)
	assert.Empty(t, created.Products)

	shown := h.view("show", created.ID.String())
	assert.Equal(t, created.ID, shown.ID)
	assert.Equal(t, rewind.Version(1), shown.Version)
}

func TestAddRemove(t *testing.T) {
	h := newHarness(t)
	id := h.view("create").ID.String()
	product := uuid.New()

	added := h.view("add", id, product.String(), "10")
	assert.Equal(t, rewind.Version(2), added.Version)
	assert.Equal(t, []productView{{ProductID: product, Quantity: 10}},
		added.Products,
	)

	removed := h.view("remove", id, product.String(), "4")
	assert.Equal(t, rewind.Version(3), removed.Version)
	assert.Equal(t, 6, removed.Products[0].Quantity)

	_, err := h.run("remove", id, product.String(), "7")
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	_, err = h.run("add", id, product.String(), "0")
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = h.run("add", id, "not-a-uuid", "1")
	assert.Error(t, err)

	assert.Equal(t, 3, h.backend.Len(uuid.MustParse(id)))
}

func TestShowAsOf(t *testing.T) {
	h := newHarness(t)
	id := h.view("create").ID.String()
	product := uuid.New().String()

	h.view("add", id, product, "5")
	h.view("add", id, product, "5")

	v2 := h.view("show", id, "--version", "2")
	assert.Equal(t, rewind.Version(2), v2.Version)
	assert.Equal(t, 5, v2.Products[0].Quantity)

	now := h.view("show", id, "--at", time.Now().Add(time.Hour).Format(
		time.RFC3339Nano,
	))
	assert.Equal(t, rewind.Version(3), now.Version)
	assert.Equal(t, 10, now.Products[0].Quantity)

	_, err := h.run("show", id, "--at", "2000-01-01T00:00:00Z")
	assert.ErrorIs(t, err, rewind.ErrNotFound)

	_, err = h.run("show", id, "--version", "0")
	assert.ErrorIs(t, err, rewind.ErrNotFound)

	_, err = h.run("show", id, "--version", "-3")
	assert.ErrorIs(t, err, ErrNegativeVersion)

	_, err = h.run("show", id, "--version", "1", "--at", "2000-01-01T00:00:00Z")
	assert.ErrorIs(t, err, ErrConflictingBounds)
}

func TestShowMissing(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("show", rewind.NewID().String())
	assert.ErrorIs(t, err, rewind.ErrNotFound)
}

func TestHistoryAndList(t *testing.T) {
	h := newHarness(t)
	first := h.view("create").ID.String()
	second := h.view("create").ID.String()
	product := uuid.New().String()
	h.view("add", first, product, "3")

	out, err := h.run("history", first)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "1\t"))
	assert.Contains(t, lines[0], string(inventory.EventCreated))
	assert.Contains(t, lines[1], "+3 "+product)

	out, err = h.run("history", first, "--json")
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, jsonCodec.UnmarshalFromString(out, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, first, recs[0]["aggregate_id"])
	assert.EqualValues(t, 2, recs[1]["version"])
	assert.Equal(t, string(inventory.EventProductAdded), recs[1]["type"])
	assert.Contains(t, recs[1], "timestamp")
	assert.Contains(t, recs[1], "data")

	out, err = h.run("list")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{first, second},
		strings.Fields(out),
	)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(configEnv, "")

	cfg, err := LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "rewind.toml")
	err = os.WriteFile(path, []byte(`
backend = "redis"

[redis]
addr = "cache:6380"
prefix = "stock"
connect_timeout = "2s"

[bolt]
path = "/var/lib/rewind/events.db"
`), 0o600)
	require.NoError(t, err)

	cfg, err = LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "stock", cfg.Redis.Prefix)
	assert.Equal(t, 2*time.Second, cfg.Redis.ConnectTimeout)
	assert.Equal(t, "/var/lib/rewind/events.db", cfg.Bolt.Path)
	assert.Equal(t, DefaultConfig().Postgres, cfg.Postgres)

	t.Setenv(configEnv, path)
	cfg, err = LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	cfg := DefaultConfig()
	cfg.Backend = BackendMemory
	b, closer, err := openBackend(ctx, cfg, logger)
	assert.NoError(t, err)
	assert.IsType(t, &rewind.MemoryBackend{}, b)
	assert.NoError(t, closer())

	cfg = DefaultConfig()
	cfg.Bolt.Path = filepath.Join(t.TempDir(), "events.db")
	b, closer, err = openBackend(ctx, cfg, logger)
	assert.NoError(t, err)
	assert.Implements(t, (*rewind.Lister)(nil), b)
	assert.NoError(t, closer())

	cfg.Backend = "cassandra"
	_, _, err = openBackend(ctx, cfg, logger)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
