package app_test

import (
	"context"
	"database/sql"
	"testing"

	"rating_store/internal/domain"
	mysqlrepo "rating_store/internal/storage/mysql"
)

// newStore opens a migrated in-memory SQLite store.
func newStore(t *testing.T) (*mysqlrepo.Repo, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := mysqlrepo.Open(ctx, "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := mysqlrepo.New(db, mysqlrepo.WithDialect(dialect))
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo, db
}

func mkPost(t *testing.T, repo *mysqlrepo.Repo, typ, status string) int64 {
	t.Helper()
	id, err := repo.CreateItem(context.Background(), domain.Item{Type: typ, Status: status, Title: typ})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return id
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func sameSet(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	seen := map[int64]bool{}
	for _, v := range got {
		seen[v] = true
	}
	for _, v := range want {
		if !seen[v] {
			return false
		}
	}
	return true
}
