package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Open connects to driver ("mysql" or "sqlite") and verifies the connection.
// SQLite runs on a single connection with foreign keys enabled, which keeps
// ":memory:" databases alive for the life of the pool.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	dialect := ParseDialect(driver)
	name := "mysql"
	if dialect == SQLite {
		name = "sqlite"
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, dialect, fmt.Errorf("open %s: %w", name, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, dialect, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dialect, fmt.Errorf("ping %s: %w", name, err)
	}
	return db, dialect, nil
}
