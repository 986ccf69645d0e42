//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"rating_store/internal/app"
	"rating_store/internal/domain"
	"rating_store/internal/listing"
	mysqlrepo "rating_store/internal/storage/mysql"
)

// startMySQL runs an isolated MySQL and returns a migrated repo.
func startMySQL(t *testing.T) (*mysqlrepo.Repo, *sql.DB) {
	t.Helper()
	// Let Docker pick a free host port.
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=ratings",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/ratings?charset=utf8mb4&loc=UTC", resource.GetPort("3306/tcp"))
	ctx := context.Background()

	var (
		db      *sql.DB
		dialect mysqlrepo.Dialect
	)
	if err := pool.Retry(func() error {
		var e error
		db, dialect, e = mysqlrepo.Open(ctx, "mysql", dsn)
		return e
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := mysqlrepo.New(db,
		mysqlrepo.WithDialect(dialect),
		mysqlrepo.WithListHook(listing.New(domain.ReviewItemType)),
	)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// the schema is idempotent
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	return repo, db
}

func TestMySQL_ImportAndOverlay(t *testing.T) {
	repo, db := startMySQL(t)
	ctx := context.Background()

	names := []string{"Zed", "", "Ann"}
	for i, name := range names {
		id, err := repo.CreateItem(ctx, domain.Item{Type: domain.ReviewItemType, Title: fmt.Sprintf("r%d", i)})
		if err != nil {
			t.Fatalf("create item: %v", err)
		}
		payload := fmt.Sprintf(`{"rating":%d,"name":%q,"is_approved":true,"post_ids":"1,1,2"}`, 3+i%2*2, name)
		if err := repo.AddLegacyRow(ctx, id, "export-1", payload); err != nil {
			t.Fatalf("legacy row: %v", err)
		}
	}

	svc := app.NewMigrationService(repo)
	for run := 0; run < 2; run++ {
		if _, err := svc.Run(ctx, "export-1"); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM assigned_posts").Scan(&n); err != nil || n != 6 {
		t.Fatalf("assigned posts = %d %v", n, err)
	}

	items, err := repo.ListItems(ctx, listing.Request{ItemType: domain.ReviewItemType, OrderBy: "name", Order: "asc"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 || items[0].Title != "r2" || items[2].Title != "r1" {
		t.Fatalf("empty names must sort last: %+v", items)
	}

	rated, err := repo.CountItems(ctx, listing.Request{ItemType: domain.ReviewItemType, Filters: map[string]string{"rating": "3"}})
	if err != nil || rated != 2 {
		t.Fatalf("rating filter count = %d %v", rated, err)
	}
}
