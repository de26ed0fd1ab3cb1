package rewind

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type (
	// Store commits aggregates of type A to a Backend and reconstructs them
	// by identity, by version ceiling, or by time ceiling
	Store[A Aggregate] struct {
		backend Backend
		codec   Serializer
		factory Factory[A]
		logger  *zap.Logger
	}

	// StoreOption configures a Store
	StoreOption func(*storeConfig)

	// Command runs domain logic against a loaded aggregate
	Command[A Aggregate] func(A) error

	storeConfig struct {
		logger *zap.Logger
	}
)

// WithLogger sets the logger a Store reports its operations to
func WithLogger(l *zap.Logger) StoreOption {
	return func(cfg *storeConfig) {
		cfg.logger = l
	}
}

// NewStore creates a Store that persists through the Backend, encodes
// payloads with the Serializer, and rebuilds aggregates with the Factory
func NewStore[A Aggregate](
	backend Backend, codec Serializer, factory Factory[A], opts ...StoreOption,
) *Store[A] {
	cfg := storeConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store[A]{
		backend: backend,
		codec:   codec,
		factory: factory,
		logger:  cfg.logger,
	}
}

// Commit appends the aggregate's pending events as a single batch and, once
// they are durable, clears them from the aggregate. On failure neither the
// aggregate nor the event log is changed, so the whole Commit can be
// retried
func (s *Store[A]) Commit(ctx context.Context, a A) error {
	pending := a.Pending()
	if len(pending) == 0 {
		return nil
	}

	evs, err := s.encode(a.ID(), pending)
	if err != nil {
		return err
	}

	log := s.logger.With(
		zap.Stringer("aggregate_id", a.ID()),
		zap.Int64("from_version", int64(evs[0].Version)),
		zap.Int("event_count", len(evs)),
	)

	if err := s.backend.AppendBatch(ctx, evs); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			log.Warn("append rejected", zap.Error(err))
		}
		return errors.Join(ErrAppendFailed, err)
	}

	a.Commit()
	log.Debug("events committed")
	return nil
}

// GetByID rebuilds the aggregate from its complete history
func (s *Store[A]) GetByID(ctx context.Context, id ID) (A, error) {
	evs, err := s.backend.QueryByID(ctx, id)
	return s.rehydrate(id, evs, err)
}

// GetByVersion rebuilds the aggregate from the events with a version no
// greater than the ceiling. The result's version is the highest stored
// version within that bound
func (s *Store[A]) GetByVersion(
	ctx context.Context, id ID, ceiling Version,
) (A, error) {
	evs, err := s.backend.QueryByVersion(ctx, id, ceiling)
	return s.rehydrate(id, evs, err)
}

// GetByTime rebuilds the aggregate as it stood at the instant, from the
// events raised no later than it
func (s *Store[A]) GetByTime(
	ctx context.Context, id ID, instant time.Time,
) (A, error) {
	evs, err := s.backend.QueryByTime(ctx, id, instant)
	return s.rehydrate(id, evs, err)
}

// History returns the decoded Records of the aggregate in version order
func (s *Store[A]) History(ctx context.Context, id ID) ([]*Record, error) {
	evs, err := s.backend.QueryByID(ctx, id)
	if err != nil {
		return nil, errors.Join(ErrQueryFailed, err)
	}
	if len(evs) == 0 {
		return nil, &NotFoundError{ID: id}
	}
	return s.decode(evs)
}

// Update loads the latest state of the aggregate, runs the Command against
// it, and commits whatever the Command raised. If the Command fails nothing
// is committed
func (s *Store[A]) Update(
	ctx context.Context, id ID, cmd Command[A],
) (A, error) {
	var zero A
	a, err := s.GetByID(ctx, id)
	if err != nil {
		return zero, err
	}
	if err := cmd(a); err != nil {
		return zero, err
	}
	if err := s.Commit(ctx, a); err != nil {
		return zero, err
	}
	return a, nil
}

func (s *Store[A]) rehydrate(id ID, evs []*Envelope, err error) (A, error) {
	var zero A
	if err != nil {
		return zero, errors.Join(ErrQueryFailed, err)
	}
	if len(evs) == 0 {
		return zero, &NotFoundError{ID: id}
	}

	recs, err := s.decode(evs)
	if err != nil {
		return zero, err
	}

	a, err := s.factory(recs)
	if err != nil {
		return zero, err
	}

	s.logger.Debug("aggregate loaded",
		zap.Stringer("aggregate_id", id),
		zap.Int64("version", int64(a.Version())),
		zap.Int("event_count", len(recs)),
	)
	return a, nil
}

func (s *Store[A]) encode(id ID, pending []*Record) ([]*Envelope, error) {
	evs := make([]*Envelope, 0, len(pending))
	for _, rec := range pending {
		if rec.AggregateID != id {
			return nil, fmt.Errorf("%w: %s is not %s",
				ErrIdentityMismatch, rec.AggregateID, id,
			)
		}
		data, err := s.codec.Serialize(rec.Event)
		if err != nil {
			return nil, err
		}
		evs = append(evs, &Envelope{
			AggregateID: id,
			Version:     rec.Version,
			Timestamp:   rec.Timestamp,
			Type:        rec.Type,
			Data:        data,
		})
	}
	return evs, nil
}

func (s *Store[A]) decode(evs []*Envelope) ([]*Record, error) {
	recs := make([]*Record, 0, len(evs))
	for _, env := range evs {
		ev, err := s.codec.Deserialize(env.Data, env.Type)
		if err != nil {
			return nil, err
		}
		recs = append(recs, &Record{
			AggregateID: env.AggregateID,
			Version:     env.Version,
			Timestamp:   env.Timestamp,
			Type:        env.Type,
			Event:       ev,
		})
	}
	return recs, nil
}
