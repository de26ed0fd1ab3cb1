// Package pgstore is a PostgreSQL rewind.Backend. Envelopes live in a single
// table keyed by (aggregate_id, version); the primary key is what finally
// rejects a duplicate version if two writers race past the continuity check
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kode4food/rewind"
)

type (
	// Store is a PostgreSQL-backed rewind.Backend
	Store struct {
		db     dbAdapter
		logger *zap.Logger
		table  string
	}

	// Config describes the database connection and event table
	Config struct {
		DSN      string `toml:"dsn"`
		Table    string `toml:"table"`
		MaxConns int32  `toml:"max_conns"`
	}

	// Option configures a Store
	Option func(*Store) error
)

const (
	DefaultDSN      = "postgres://localhost:5432/rewind?sslmode=disable"
	DefaultTable    = "events"
	DefaultMaxConns = 4

	dialectPostgres = "postgres"
	colAggregateID  = "aggregate_id"
	colVersion      = "version"
	colOccurredAt   = "occurred_at"
	colEventType    = "event_type"
	colPayload      = "payload"

	schemaSQL = `CREATE TABLE IF NOT EXISTS %s (
		aggregate_id UUID        NOT NULL,
		version      BIGINT      NOT NULL CHECK (version > 0),
		occurred_at  TIMESTAMPTZ NOT NULL,
		event_type   TEXT        NOT NULL,
		payload      JSONB       NOT NULL,
		PRIMARY KEY (aggregate_id, version)
	)`
)

var (
	// ErrNilDatabase indicates a constructor received no connection
	ErrNilDatabase = errors.New("nil database connection")

	// ErrEmptyTableName indicates WithTableName received an empty name
	ErrEmptyTableName = errors.New("empty event table name")

	// ErrBuildingQuery wraps failures rendering SQL
	ErrBuildingQuery = errors.New("building query failed")

	// ErrScanningRow wraps failures reading a result row
	ErrScanningRow = errors.New("scanning row failed")

	dialect = goqu.Dialect(dialectPostgres)
)

var (
	_ rewind.Backend = (*Store)(nil)
	_ rewind.Lister  = (*Store)(nil)
)

// DefaultConfig returns a Config for a local database named rewind
func DefaultConfig() Config {
	return Config{
		DSN:      DefaultDSN,
		Table:    DefaultTable,
		MaxConns: DefaultMaxConns,
	}
}

// WithTableName sets the table the Store reads and writes
func WithTableName(name string) Option {
	return func(s *Store) error {
		if name == "" {
			return ErrEmptyTableName
		}
		s.table = name
		return nil
	}
}

// WithLogger sets the logger the Store reports to
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) error {
		s.logger = l
		return nil
	}
}

// Open creates a pgx pool from the Config and verifies the connection. The
// returned close function releases the pool
func Open(
	ctx context.Context, cfg Config, opts ...Option,
) (*Store, func(), error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if cfg.Table != "" {
		opts = append([]Option{WithTableName(cfg.Table)}, opts...)
	}
	s, err := NewFromPGXPool(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// NewFromPGXPool creates a Store over a pgx connection pool
func NewFromPGXPool(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrNilDatabase
	}
	return newStore(&pgxAdapter{pool: pool}, opts)
}

// NewFromSQLX creates a Store over a sqlx handle, typically opened with the
// lib/pq "postgres" driver
func NewFromSQLX(db *sqlx.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return newStore(&sqlxAdapter{db: db}, opts)
}

func newStore(db dbAdapter, opts []Option) (*Store, error) {
	s := &Store{
		db:     db,
		table:  DefaultTable,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureSchema creates the event table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(schemaSQL, pgx.Identifier{s.table}.Sanitize())
	return s.db.inTx(ctx, func(tx dbTx) error {
		return tx.exec(ctx, ddl)
	})
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
	maxSQL, maxArgs, err := s.buildMaxVersionQuery(id)
	if err != nil {
		return err
	}
	insertSQL, insertArgs, err := s.buildInsertQuery(evs)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.db.inTx(ctx, func(tx dbTx) error {
		var latest int64
		if err := tx.queryRow(ctx, maxSQL, maxArgs...).Scan(&latest); err != nil {
			return errors.Join(ErrScanningRow, err)
		}
		if evs[0].Version != rewind.Version(latest)+1 {
			return fmt.Errorf("%w: expected version %d, but at %d",
				rewind.ErrVersionConflict, evs[0].Version-1, latest,
			)
		}
		return tx.exec(ctx, insertSQL, insertArgs...)
	})

	if isUniqueViolation(err) {
		err = errors.Join(rewind.ErrVersionConflict, err)
	}
	if err != nil {
		if errors.Is(err, rewind.ErrVersionConflict) {
			s.logger.Warn("version conflict",
				zap.Stringer("aggregate_id", id), zap.Error(err),
			)
		}
		return err
	}

	s.logger.Debug("events appended",
		zap.Stringer("aggregate_id", id),
		zap.Int("event_count", len(evs)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (s *Store) QueryByID(
	ctx context.Context, id rewind.ID,
) ([]*rewind.Envelope, error) {
	return s.query(ctx, s.selectEvents(id))
}

func (s *Store) QueryByVersion(
	ctx context.Context, id rewind.ID, ceiling rewind.Version,
) ([]*rewind.Envelope, error) {
	return s.query(ctx, s.selectEvents(id).Where(
		goqu.C(colVersion).Lte(int64(ceiling)),
	))
}

func (s *Store) QueryByTime(
	ctx context.Context, id rewind.ID, instant time.Time,
) ([]*rewind.Envelope, error) {
	return s.query(ctx, s.selectEvents(id).Where(
		goqu.C(colOccurredAt).Lte(instant.UTC()),
	))
}

// ListIDs returns the identities of every stored aggregate
func (s *Store) ListIDs(ctx context.Context) ([]rewind.ID, error) {
	sql, args, err := dialect.From(s.table).Prepared(true).
		Select(colAggregateID).Distinct().ToSQL()
	if err != nil {
		return nil, errors.Join(ErrBuildingQuery, err)
	}

	rows, err := s.db.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	var ids []rewind.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Join(ErrScanningRow, err)
		}
		id, err := rewind.ParseID(raw)
		if err != nil {
			return nil, errors.Join(ErrScanningRow, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) selectEvents(id rewind.ID) *goqu.SelectDataset {
	return dialect.From(s.table).Prepared(true).
		Select(colAggregateID, colVersion, colOccurredAt, colEventType, colPayload).
		Where(goqu.C(colAggregateID).Eq(id.String())).
		Order(goqu.C(colVersion).Asc())
}

func (s *Store) buildMaxVersionQuery(id rewind.ID) (string, []any, error) {
	sql, args, err := dialect.From(s.table).Prepared(true).
		Select(goqu.L("COALESCE(MAX(?), 0)", goqu.C(colVersion))).
		Where(goqu.C(colAggregateID).Eq(id.String())).
		ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQuery, err)
	}
	return sql, args, nil
}

func (s *Store) buildInsertQuery(evs []*rewind.Envelope) (string, []any, error) {
	rows := make([]any, 0, len(evs))
	for _, ev := range evs {
		rows = append(rows, goqu.Record{
			colAggregateID: ev.AggregateID.String(),
			colVersion:     int64(ev.Version),
			colOccurredAt:  ev.Timestamp.UTC(),
			colEventType:   string(ev.Type),
			colPayload:     string(ev.Data),
		})
	}
	sql, args, err := dialect.Insert(s.table).Prepared(true).
		Rows(rows...).ToSQL()
	if err != nil {
		return "", nil, errors.Join(ErrBuildingQuery, err)
	}
	return sql, args, nil
}

func (s *Store) query(
	ctx context.Context, sel *goqu.SelectDataset,
) ([]*rewind.Envelope, error) {
	sql, args, err := sel.ToSQL()
	if err != nil {
		return nil, errors.Join(ErrBuildingQuery, err)
	}

	rows, err := s.db.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	res := []*rewind.Envelope{}
	for rows.Next() {
		ev, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) closeRows(rows dbRows) {
	if err := rows.Close(); err != nil {
		s.logger.Warn("failed to close rows", zap.Error(err))
	}
}

func scanEnvelope(row rowScanner) (*rewind.Envelope, error) {
	var (
		rawID   string
		version int64
		at      time.Time
		typ     string
		payload []byte
	)
	if err := row.Scan(&rawID, &version, &at, &typ, &payload); err != nil {
		return nil, errors.Join(ErrScanningRow, err)
	}
	id, err := rewind.ParseID(rawID)
	if err != nil {
		return nil, errors.Join(ErrScanningRow, err)
	}
	return &rewind.Envelope{
		AggregateID: id,
		Version:     rewind.Version(version),
		Timestamp:   at.UTC(),
		Type:        rewind.EventType(typ),
		Data:        payload,
	}, nil
}
