package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"rating_store/internal/domain"
	"rating_store/internal/listing"
)

// Dialect selects the few statements that differ between MySQL and SQLite.
type Dialect int

const (
	MySQL Dialect = iota
	SQLite
)

// ParseDialect maps a database/sql driver name to a Dialect.
func ParseDialect(driver string) Dialect {
	if driver == "sqlite" || driver == "sqlite3" {
		return SQLite
	}
	return MySQL
}

func (d Dialect) insertIgnore() string {
	if d == SQLite {
		return "INSERT OR IGNORE INTO"
	}
	return "INSERT IGNORE INTO"
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	hooks   []listing.Hook
}

type Option func(*Repo)

func WithDialect(d Dialect) Option { return func(r *Repo) { r.dialect = d } }

// WithListHook registers a clause hook for ListItems, applied in order.
func WithListHook(h listing.Hook) Option {
	return func(r *Repo) { r.hooks = append(r.hooks, h) }
}

func New(db *sql.DB, opts ...Option) *Repo {
	r := &Repo{db: db, q: db}
	for _, o := range opts {
		o(r)
	}
	return r
}

// InTx runs fn inside one transaction. fn's error rolls the transaction back.
func (r *Repo) InTx(ctx context.Context, fn func(domain.PageStore) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txRepo := &Repo{db: r.db, q: tx, dialect: r.dialect, hooks: r.hooks}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
