// Package store provides the transactional PostgreSQL adapter shared by the
// pipeline components. Tables are organized in three schemas: staging (raw
// loaded data), production (cleaned current-state data), and warehouse
// (dimensional tables for analytics).
//
// The adapter wraps database/sql over the pgx stdlib driver. Components
// accept the DBTX interface so the same query code runs against the pool or
// inside an explicit transaction.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/vireodata/conveyor/pkg/config"
	"github.com/vireodata/conveyor/pkg/conveyorerrors"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is a transactional connection to the pipeline database.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL using the supplied settings and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeConnection, "failed to open database").
			WithDetail("host", cfg.Host).
			WithDetail("database", cfg.Name)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeConnection, "database ping failed").
			WithDetail("host", cfg.Host).
			WithDetail("database", cfg.Name)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle for read-only query use.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside an explicit transaction. The transaction commits
// only if fn returns nil; any error triggers a rollback and is returned to
// the caller. A partial transform never becomes visible.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeConnection, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "transaction failed").
				WithDetail("rollback_error", rbErr.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "failed to commit transaction")
	}
	return nil
}

// Scalar runs a query expected to return a single integer, such as a count.
func Scalar(ctx context.Context, q DBTX, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, conveyorerrors.Wrap(err, conveyorerrors.ErrorTypeQuery, "scalar query failed").
			WithDetail("query", query)
	}
	return n, nil
}
