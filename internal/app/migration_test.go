package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"rating_store/internal/app"
	"rating_store/internal/domain"
)

func TestRun_CrossesPageBoundary(t *testing.T) {
	ctx := context.Background()
	repo, _ := newStore(t)
	const rows = app.PageSize + 1
	for i := 0; i < rows; i++ {
		id := mkPost(t, repo, domain.ReviewItemType, domain.StatusPublish)
		if err := repo.AddLegacyRow(ctx, id, "export-1", `{"rating":3,"name":"r"}`); err != nil {
			t.Fatalf("legacy row: %v", err)
		}
	}

	var pages []int
	svc := app.NewMigrationService(repo,
		app.WithPageLimiter(rate.NewLimiter(rate.Inf, 1)),
		app.WithPageObserver(func(p app.MigrationStats, _ time.Duration) { pages = append(pages, p.Rows) }),
	)
	stats, err := svc.Run(ctx, "export-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Pages != 2 || stats.Rows != rows || stats.Ratings != rows || stats.Markers != rows {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(pages) != 2 || pages[0] != app.PageSize || pages[1] != 1 {
		t.Fatalf("page sizes = %v", pages)
	}

	m := app.NewManager(repo, repo, nil)
	total, err := m.Total(ctx, domain.ReviewsQuery{})
	if err != nil || total != rows {
		t.Fatalf("total = %d %v", total, err)
	}
	left, _ := repo.LegacyRows(ctx, "export-1", 0, 10)
	if len(left) != 0 {
		t.Fatalf("marker rows must be deleted, %d left", len(left))
	}
}

func TestRun_NormalizesAssignments(t *testing.T) {
	ctx := context.Background()
	repo, db := newStore(t)
	id := mkPost(t, repo, domain.ReviewItemType, domain.StatusPublish)
	payload := `{"rating":4,"is_approved":"1","post_ids":[5,5,7],"term_ids":"","user_ids":"3, x, -2"}`
	if err := repo.AddLegacyRow(ctx, id, "export-123", payload); err != nil {
		t.Fatalf("legacy row: %v", err)
	}

	stats, err := app.NewMigrationService(repo).Run(ctx, "export-123")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Posts != 2 || stats.Terms != 0 || stats.Users != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM assigned_posts WHERE is_published = 1"); n != 2 {
		t.Fatalf("published assignment rows = %d", n)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM assigned_terms"); n != 0 {
		t.Fatalf("term rows = %d", n)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM post_meta WHERE meta_key = ?", "export-123"); n != 0 {
		t.Fatalf("marker rows = %d", n)
	}

	r, err := app.NewManager(repo, repo, nil).Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !r.IsValid() || r.Rating() != 4 || !r.IsApproved() || !sameSet(r.AssignedPosts(), []int64{5, 7}) {
		t.Fatalf("unexpected review: %+v", r.Projection())
	}
}

func TestRun_SkipsOnlyUndecodableRows(t *testing.T) {
	ctx := context.Background()
	repo, _ := newStore(t)
	for _, payload := range []string{
		`not json`,
		`{"rating":99}`,
		`{"rating":"abc"}`,
		`{"email":"nope"}`,
		`{"rating":"5","post_ids":{"a":1}}`,
	} {
		id := mkPost(t, repo, domain.ReviewItemType, domain.StatusPublish)
		if err := repo.AddLegacyRow(ctx, id, "m", payload); err != nil {
			t.Fatalf("legacy row: %v", err)
		}
	}

	stats, err := app.NewMigrationService(repo).Run(ctx, "m")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Skipped != 1 || stats.Repaired != 2 || stats.Ratings != 4 || stats.Posts != 0 || stats.Markers != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRun_ResetsInvalidFieldsAndKeepsRow(t *testing.T) {
	ctx := context.Background()
	repo, db := newStore(t)
	payloads := []string{
		`{"rating":5,"ip_address":"unknown","post_ids":[5]}`,
		`{"rating":4,"email":"n/a","name":"Ana"}`,
		`{"rating":3}`,
		`{"rating":-2,"type":"a-type-name-that-is-far-too-long"}`,
	}
	ids := make([]int64, len(payloads))
	for i, payload := range payloads {
		ids[i] = mkPost(t, repo, domain.ReviewItemType, domain.StatusPublish)
		if err := repo.AddLegacyRow(ctx, ids[i], "export-7", payload); err != nil {
			t.Fatalf("legacy row: %v", err)
		}
	}

	stats, err := app.NewMigrationService(repo).Run(ctx, "export-7")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Skipped != 0 || stats.Repaired != 3 || stats.Ratings != 4 || stats.Posts != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM ratings"); n != len(payloads) {
		t.Fatalf("every legacy row must produce a rating, got %d", n)
	}

	type stored struct {
		rating               int
		typ, email, ip, name string
	}
	read := func(id int64) stored {
		var s stored
		err := db.QueryRowContext(ctx, "SELECT rating, type, email, ip_address, name FROM ratings WHERE review_id = ?", id).
			Scan(&s.rating, &s.typ, &s.email, &s.ip, &s.name)
		if err != nil {
			t.Fatalf("read rating %d: %v", id, err)
		}
		return s
	}
	if s := read(ids[0]); s.rating != 5 || s.ip != "" {
		t.Fatalf("ip must be cleared: %+v", s)
	}
	if s := read(ids[1]); s.rating != 4 || s.email != "" || s.name != "Ana" {
		t.Fatalf("email must be cleared, the rest kept: %+v", s)
	}
	if s := read(ids[3]); s.rating != 0 || len(s.typ) != 20 {
		t.Fatalf("rating must be clamped and type truncated: %+v", s)
	}
}

func TestRun_HonorsConfiguredMaxRating(t *testing.T) {
	ctx := context.Background()
	repo, db := newStore(t)
	id := mkPost(t, repo, domain.ReviewItemType, domain.StatusPublish)
	over := mkPost(t, repo, domain.ReviewItemType, domain.StatusPublish)
	if err := repo.AddLegacyRow(ctx, id, "m", `{"rating":9}`); err != nil {
		t.Fatalf("legacy row: %v", err)
	}
	if err := repo.AddLegacyRow(ctx, over, "m", `{"rating":14}`); err != nil {
		t.Fatalf("legacy row: %v", err)
	}

	stats, err := app.NewMigrationService(repo, app.WithImportMaxRating(10)).Run(ctx, "m")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Ratings != 2 || stats.Repaired != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if n := count(t, db, "SELECT rating FROM ratings WHERE review_id = ?", id); n != 9 {
		t.Fatalf("rating on a 10 point scale = %d", n)
	}
	if n := count(t, db, "SELECT rating FROM ratings WHERE review_id = ?", over); n != 10 {
		t.Fatalf("rating must clamp to the scale top, got %d", n)
	}
}

func TestRun_RerunDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	repo, db := newStore(t)
	id := mkPost(t, repo, domain.ReviewItemType, domain.StatusPublish)
	payload := `{"rating":2,"post_ids":"8,9","user_ids":[1]}`

	svc := app.NewMigrationService(repo)
	for run := 0; run < 2; run++ {
		if err := repo.AddLegacyRow(ctx, id, "m", payload); err != nil {
			t.Fatalf("legacy row: %v", err)
		}
		if _, err := svc.Run(ctx, "m"); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
	}
	if n := count(t, db, "SELECT COUNT(*) FROM ratings"); n != 1 {
		t.Fatalf("ratings = %d", n)
	}
	if n := count(t, db, "SELECT COUNT(*) FROM assigned_posts"); n != 2 {
		t.Fatalf("assigned posts = %d", n)
	}
}

func TestRun_ResetsMigrationState(t *testing.T) {
	ctx := context.Background()
	repo, _ := newStore(t)
	if err := repo.MarkMigrated(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if _, err := app.NewMigrationService(repo).Run(ctx, "empty-marker"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v, _ := repo.LastMigration(ctx); v != "" {
		t.Fatalf("state must be reset, got %q", v)
	}
}

// ---- failure path ----

type failingStore struct {
	rows      []domain.LegacyRow
	failPage  int
	pages     int
	deleted   bool
	resetDone bool
}

func (s *failingStore) LegacyRows(ctx context.Context, marker string, offset, limit int) ([]domain.LegacyRow, error) {
	if offset >= len(s.rows) {
		return nil, nil
	}
	return s.rows[offset:min(offset+limit, len(s.rows))], nil
}
func (s *failingStore) DeleteMarker(ctx context.Context, marker string) (int64, error) {
	s.deleted = true
	return int64(len(s.rows)), nil
}
func (s *failingStore) Reset(ctx context.Context) error        { s.resetDone = true; return nil }
func (s *failingStore) MarkMigrated(ctx context.Context) error { return nil }
func (s *failingStore) InTx(ctx context.Context, fn func(domain.PageStore) error) error {
	s.pages++
	if s.pages == s.failPage {
		return errors.New("deadlock")
	}
	return fn(&fakeRepo{})
}

func TestRun_StopsOnPageFailureAndKeepsMarker(t *testing.T) {
	store := &failingStore{failPage: 2}
	for i := 0; i < app.PageSize*3; i++ {
		store.rows = append(store.rows, domain.LegacyRow{MetaID: int64(i + 1), PostID: int64(i + 1), MetaValue: fmt.Sprintf(`{"rating":%d}`, i%5)})
	}

	stats, err := app.NewMigrationService(store).Run(context.Background(), "m")
	if err == nil {
		t.Fatal("expected page failure")
	}
	if stats.Pages != 1 || stats.Rows != app.PageSize {
		t.Fatalf("committed pages must be reported: %+v", stats)
	}
	if store.deleted || store.resetDone {
		t.Fatal("marker must survive a failed run")
	}
}

func TestRun_CanceledContext(t *testing.T) {
	store := &failingStore{rows: []domain.LegacyRow{{MetaID: 1, PostID: 1, MetaValue: `{}`}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	lim.Allow() // drain the burst so Wait has to block
	_, err := app.NewMigrationService(store, app.WithPageLimiter(lim)).Run(ctx, "m")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
