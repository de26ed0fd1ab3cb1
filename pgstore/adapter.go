package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // also registers the "postgres" database/sql driver
)

type (
	// dbAdapter hides the difference between a pgx pool and a sqlx handle
	dbAdapter interface {
		query(ctx context.Context, sql string, args ...any) (dbRows, error)
		inTx(ctx context.Context, fn func(dbTx) error) error
	}

	dbTx interface {
		queryRow(ctx context.Context, sql string, args ...any) rowScanner
		exec(ctx context.Context, sql string, args ...any) error
	}

	dbRows interface {
		rowScanner
		Next() bool
		Err() error
		Close() error
	}

	rowScanner interface {
		Scan(dest ...any) error
	}

	pgxAdapter struct {
		pool *pgxpool.Pool
	}

	pgxTx struct {
		tx pgx.Tx
	}

	pgxRows struct {
		pgx.Rows
	}

	sqlxAdapter struct {
		db *sqlx.DB
	}

	sqlxTx struct {
		tx *sqlx.Tx
	}
)

const codeUniqueViolation = "23505"

func (p *pgxAdapter) query(
	ctx context.Context, sql string, args ...any,
) (dbRows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{Rows: rows}, nil
}

func (p *pgxAdapter) inTx(ctx context.Context, fn func(dbTx) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&pgxTx{tx: tx})
	})
}

func (t *pgxTx) queryRow(
	ctx context.Context, sql string, args ...any,
) rowScanner {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *pgxTx) exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (r *pgxRows) Close() error {
	r.Rows.Close()
	return nil
}

func (s *sqlxAdapter) query(
	ctx context.Context, sql string, args ...any,
) (dbRows, error) {
	rows, err := s.db.QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *sqlxAdapter) inTx(ctx context.Context, fn func(dbTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqlxTx{tx: tx}); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

func (t *sqlxTx) queryRow(
	ctx context.Context, sql string, args ...any,
) rowScanner {
	return t.tx.QueryRowxContext(ctx, sql, args...)
}

func (t *sqlxTx) exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, sql, args...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeUniqueViolation
	}
	return false
}
