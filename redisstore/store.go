// Package redisstore is a rewind.Backend that keeps each aggregate's
// envelopes in a Redis list, appended through a Lua script so that the
// version check and the write happen atomically
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kode4food/rewind"
)

type (
	// Store is a Redis-backed rewind.Backend
	Store struct {
		client          *redis.Client
		appendEventsLua *redis.Script
		logger          *zap.Logger
		prefix          string
	}

	// Option configures a Store
	Option func(*Store)
)

const eventsSuffix = ":events"

var (
	// ErrUnexpectedLuaResult indicates a script reply of the wrong shape
	ErrUnexpectedLuaResult = errors.New("unexpected result from Lua script")

	jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary
)

var (
	_ rewind.Backend = (*Store)(nil)
	_ rewind.Lister  = (*Store)(nil)
)

// WithLogger sets the logger the Store reports to
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New connects to Redis and verifies the connection before returning
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewFromClient(client, cfg.Prefix, opts...), nil
}

// NewFromClient wraps an existing client. The Store takes ownership of it
// and closes it on Close
func NewFromClient(
	client *redis.Client, prefix string, opts ...Option,
) *Store {
	s := &Store{
		client:          client,
		prefix:          prefix,
		appendEventsLua: redis.NewScript(luaAppendEvents),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) AppendBatch(
	ctx context.Context, evs []*rewind.Envelope,
) error {
	if len(evs) == 0 {
		return nil
	}
	if err := rewind.CheckBatch(evs); err != nil {
		return err
	}

	id := evs[0].AggregateID
	keys := []string{s.buildKey(id)}
	args := []any{int64(evs[0].Version - 1)}

	for _, ev := range evs {
		data, err := jsonCodec.Marshal(ev)
		if err != nil {
			return err
		}
		args = append(args, string(data))
	}

	result, err := s.appendEventsLua.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return err
	}

	success, length, err := parseAppendResult(result)
	if err != nil {
		return err
	}

	if !success {
		s.logger.Warn("version conflict",
			zap.Stringer("aggregate_id", id),
			zap.Int64("expected", int64(evs[0].Version-1)),
			zap.Int64("actual", length),
		)
		return fmt.Errorf("%w: expected version %d, but at %d",
			rewind.ErrVersionConflict, evs[0].Version-1, length,
		)
	}

	s.logger.Debug("events appended",
		zap.Stringer("aggregate_id", id),
		zap.Int("event_count", len(evs)),
		zap.Int64("length", length),
	)
	return nil
}

func (s *Store) QueryByID(
	ctx context.Context, id rewind.ID,
) ([]*rewind.Envelope, error) {
	return s.getRange(ctx, id, -1)
}

func (s *Store) QueryByVersion(
	ctx context.Context, id rewind.ID, ceiling rewind.Version,
) ([]*rewind.Envelope, error) {
	if ceiling < 1 {
		return []*rewind.Envelope{}, nil
	}
	return s.getRange(ctx, id, int64(ceiling)-1)
}

func (s *Store) QueryByTime(
	ctx context.Context, id rewind.ID, instant time.Time,
) ([]*rewind.Envelope, error) {
	evs, err := s.getRange(ctx, id, -1)
	if err != nil {
		return nil, err
	}
	return rewind.SelectTime(evs, instant), nil
}

// ListIDs scans the keyspace for aggregates under the Store's prefix
func (s *Store) ListIDs(ctx context.Context) ([]rewind.ID, error) {
	pattern := fmt.Sprintf("%s:*%s", s.prefix, eventsSuffix)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()

	var ids []rewind.ID
	for iter.Next(ctx) {
		id, err := s.parseKey(iter.Val())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) getRange(
	ctx context.Context, id rewind.ID, stop int64,
) ([]*rewind.Envelope, error) {
	items, err := s.client.LRange(ctx, s.buildKey(id), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return unmarshalEvents(items)
}

// parseAppendResult unpacks the {success, length} reply of the append script
func parseAppendResult(result any) (bool, int64, error) {
	res, ok := result.([]any)
	if !ok || len(res) != 2 {
		return false, 0, ErrUnexpectedLuaResult
	}
	success, ok := res[0].(int64)
	if !ok {
		return false, 0, ErrUnexpectedLuaResult
	}
	length, ok := res[1].(int64)
	if !ok {
		return false, 0, ErrUnexpectedLuaResult
	}
	return success == 1, length, nil
}

func (s *Store) buildKey(id rewind.ID) string {
	return fmt.Sprintf("%s:%s%s", s.prefix, id, eventsSuffix)
}

func (s *Store) parseKey(key string) (rewind.ID, error) {
	trimmed := strings.TrimPrefix(key, s.prefix+":")
	return rewind.ParseID(strings.TrimSuffix(trimmed, eventsSuffix))
}

func unmarshalEvents(items []string) ([]*rewind.Envelope, error) {
	evs := make([]*rewind.Envelope, 0, len(items))
	for _, item := range items {
		ev := &rewind.Envelope{}
		if err := jsonCodec.Unmarshal([]byte(item), ev); err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}
