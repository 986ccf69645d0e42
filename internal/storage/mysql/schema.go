package mysql

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/mysql.sql schema/sqlite.sql
var schemaFS embed.FS

func (d Dialect) schemaFile() string {
	if d == SQLite {
		return "schema/sqlite.sql"
	}
	return "schema/mysql.sql"
}

// Migrate creates the content store and rating tables when missing.
// Statements run one at a time so the MySQL DSN needs no multiStatements.
func (r *Repo) Migrate(ctx context.Context) error {
	raw, err := schemaFS.ReadFile(r.dialect.schemaFile())
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
