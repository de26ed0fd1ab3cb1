package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/kode4food/rewind"
	"github.com/kode4food/rewind/boltstore"
	"github.com/kode4food/rewind/pgstore"
	"github.com/kode4food/rewind/redisstore"
)

type (
	// Config selects and configures the Backend the CLI operates on
	Config struct {
		Backend  string            `toml:"backend"`
		Redis    redisstore.Config `toml:"redis"`
		Bolt     boltstore.Config  `toml:"bolt"`
		Postgres pgstore.Config    `toml:"postgres"`
	}

	closeFunc func() error
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"

	DefaultBackend = BackendBolt

	configEnv = "REWIND_CONFIG"
)

var ErrUnknownBackend = errors.New("unknown backend")

// DefaultConfig returns a Config that stores events in a local bbolt file
func DefaultConfig() Config {
	return Config{
		Backend:  DefaultBackend,
		Redis:    redisstore.DefaultConfig(),
		Bolt:     boltstore.DefaultConfig(),
		Postgres: pgstore.DefaultConfig(),
	}
}

// LoadConfig overlays the TOML file at path onto the defaults. An empty
// path falls back to $REWIND_CONFIG, and then to the defaults alone
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	return cfg, nil
}

func openBackend(
	ctx context.Context, cfg Config, logger *zap.Logger,
) (rewind.Backend, closeFunc, error) {
	switch cfg.Backend {
	case BackendMemory:
		return rewind.NewMemoryBackend(), func() error { return nil }, nil

	case BackendRedis:
		s, err := redisstore.New(ctx, cfg.Redis, redisstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case BackendBolt:
		s, err := boltstore.Open(cfg.Bolt, boltstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case BackendPostgres:
		s, release, err := pgstore.Open(ctx, cfg.Postgres,
			pgstore.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			release()
			return nil, nil, err
		}
		return s, func() error { release(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
