package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"

	server "rating_store/internal/adapters/http_server"
	redisad "rating_store/internal/adapters/redis"
	"rating_store/internal/app"
	"rating_store/internal/domain"
	"rating_store/internal/listing"
	mysqlrepo "rating_store/internal/storage/mysql"
)

type env struct {
	ts   *httptest.Server
	repo *mysqlrepo.Repo
}

func newEnv(t *testing.T, health ...server.Pinger) *env {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := mysqlrepo.Open(ctx, "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := mysqlrepo.New(db,
		mysqlrepo.WithDialect(dialect),
		mysqlrepo.WithListHook(listing.New(domain.ReviewItemType)),
	)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	cache := redisad.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = cache.Close() })

	srv := server.New()
	srv.MountHandlers(&server.Handlers{
		M:      app.NewManager(repo, repo, cache),
		Items:  repo,
		State:  repo,
		Health: append([]server.Pinger{cache}, health...),
	})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return &env{ts: ts, repo: repo}
}

func (e *env) do(t *testing.T, method, path string, body any, hdr ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(res.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (e *env) create(t *testing.T, d domain.Draft) domain.ReviewView {
	t.Helper()
	res := e.do(t, http.MethodPost, "/v1/reviews", d)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", res.StatusCode)
	}
	return decode[domain.ReviewView](t, res)
}

func TestCreateThenGetWithETag(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, domain.Draft{Title: "Great", Rating: 4, Name: "Ana", AssignedPostIDs: "12,12"})
	if v.ID == 0 || v.Type != domain.DefaultReviewType || !v.IsApproved || len(v.AssignedPosts) != 1 {
		t.Fatalf("unexpected created review: %+v", v)
	}

	path := "/v1/reviews/" + strconv.FormatInt(v.ID, 10)
	res := e.do(t, http.MethodGet, path, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", res.StatusCode)
	}
	etag := res.Header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}
	got := decode[domain.ReviewView](t, res)
	if got.Rating != 4 || got.Author != "Ana" || got.Title != "Great" {
		t.Fatalf("unexpected review: %+v", got)
	}

	res = e.do(t, http.MethodGet, path, nil, "If-None-Match", etag)
	if res.StatusCode != http.StatusNotModified {
		t.Fatalf("want 304, got %d", res.StatusCode)
	}
}

func TestCreate_ValidationIs422(t *testing.T) {
	e := newEnv(t)
	res := e.do(t, http.MethodPost, "/v1/reviews", domain.Draft{Rating: 9})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("want 422, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type %q", ct)
	}
}

func TestGet_OrphanResetsMigrationState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.repo.MarkMigrated(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	id, err := e.repo.CreateItem(ctx, domain.Item{Type: domain.ReviewItemType, Title: "orphan"})
	if err != nil {
		t.Fatalf("item: %v", err)
	}

	res := e.do(t, http.MethodGet, fmt.Sprintf("/v1/reviews/%d", id), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("want 409, got %d", res.StatusCode)
	}
	if last, _ := e.repo.LastMigration(ctx); last != "" {
		t.Fatalf("migration state must be reset, got %q", last)
	}
}

func TestGet_NotFoundAndBadID(t *testing.T) {
	e := newEnv(t)
	if res := e.do(t, http.MethodGet, "/v1/reviews/999", nil); res.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", res.StatusCode)
	}
	if res := e.do(t, http.MethodGet, "/v1/reviews/abc", nil); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", res.StatusCode)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, domain.Draft{Rating: 2, Name: "Bo"})
	path := "/v1/reviews/" + strconv.FormatInt(v.ID, 10)

	res := e.do(t, http.MethodPatch, path, map[string]any{"rating": 5, "response": "thanks", "bogus": 1})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d", res.StatusCode)
	}
	if n := decode[map[string]int64](t, res)["updated"]; n != 1 {
		t.Fatalf("updated = %d", n)
	}
	got := decode[domain.ReviewView](t, e.do(t, http.MethodGet, path, nil))
	if got.Rating != 5 || got.Response != "thanks" {
		t.Fatalf("update not visible: %+v", got)
	}

	if res := e.do(t, http.MethodPatch, path, map[string]any{"rating": 50}); res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("out of range rating: want 422, got %d", res.StatusCode)
	}

	res = e.do(t, http.MethodDelete, path, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	if n := decode[map[string]int64](t, res)["deleted"]; n != 1 {
		t.Fatalf("deleted = %d", n)
	}
}

func TestAssignAndUnassign(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, domain.Draft{Rating: 3})
	base := "/v1/reviews/" + strconv.FormatInt(v.ID, 10) + "/assigned/"

	if res := e.do(t, http.MethodPut, base+"users/7", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d", res.StatusCode)
	}
	got := decode[domain.ReviewView](t, e.do(t, http.MethodGet, "/v1/reviews/"+strconv.FormatInt(v.ID, 10), nil))
	if len(got.AssignedUsers) != 1 || got.AssignedUsers[0] != 7 {
		t.Fatalf("assigned users = %v", got.AssignedUsers)
	}

	if res := e.do(t, http.MethodDelete, base+"users/7", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("unassign status %d", res.StatusCode)
	}
	got = decode[domain.ReviewView](t, e.do(t, http.MethodGet, "/v1/reviews/"+strconv.FormatInt(v.ID, 10), nil))
	if len(got.AssignedUsers) != 0 {
		t.Fatalf("users must be unassigned: %v", got.AssignedUsers)
	}

	if res := e.do(t, http.MethodPut, base+"widgets/7", nil); res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown kind: want 404, got %d", res.StatusCode)
	}
	if res := e.do(t, http.MethodPut, base+"posts/0", nil); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero target: want 400, got %d", res.StatusCode)
	}
}

func TestListReviewsTotalHeader(t *testing.T) {
	e := newEnv(t)
	for i := 1; i <= 3; i++ {
		e.create(t, domain.Draft{Rating: i})
	}
	res := e.do(t, http.MethodGet, "/v1/reviews?rating=2&per_page=1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if got := res.Header.Get("X-Total-Count"); got != "2" {
		t.Fatalf("X-Total-Count = %q", got)
	}
	body := decode[struct {
		Items []domain.ReviewView `json:"items"`
		Total int                 `json:"total"`
	}](t, res)
	if len(body.Items) != 1 || body.Total != 2 {
		t.Fatalf("unexpected page: %+v", body)
	}

	if res := e.do(t, http.MethodGet, "/v1/reviews?per_page=-1", nil); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", res.StatusCode)
	}
}

func TestListItemsThroughOverlay(t *testing.T) {
	e := newEnv(t)
	e.create(t, domain.Draft{Rating: 5, Name: "Ann"})
	e.create(t, domain.Draft{Rating: 1, Name: ""})
	e.create(t, domain.Draft{Rating: 5, Name: "Zed"})

	res := e.do(t, http.MethodGet, "/v1/items?rating=5&orderby=name&order=desc", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if got := res.Header.Get("X-Total-Count"); got != "2" {
		t.Fatalf("X-Total-Count = %q", got)
	}
	body := decode[struct {
		Items []domain.Item `json:"items"`
	}](t, res)
	if len(body.Items) != 2 {
		t.Fatalf("items = %+v", body.Items)
	}
}

func TestSetItemStatusSyncsAssignments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	target, err := e.repo.CreateItem(ctx, domain.Item{Type: "page", Status: domain.StatusPublish})
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	e.create(t, domain.Draft{Rating: 4, AssignedPostIDs: []int64{target}})

	res := e.do(t, http.MethodPost, fmt.Sprintf("/v1/items/%d/status", target), map[string]string{"status": "draft"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if n := decode[map[string]int64](t, res)["affected"]; n != 1 {
		t.Fatalf("affected = %d", n)
	}
	it, err := e.repo.GetItem(ctx, target)
	if err != nil || it.Status != "draft" {
		t.Fatalf("item status = %q %v", it.Status, err)
	}

	if res := e.do(t, http.MethodPost, fmt.Sprintf("/v1/items/%d/status", target), map[string]string{}); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty status: want 400, got %d", res.StatusCode)
	}
}

func TestSetItemStatus_ReviewReadReflectsWrite(t *testing.T) {
	e := newEnv(t)
	v := e.create(t, domain.Draft{Rating: 4})
	path := "/v1/reviews/" + strconv.FormatInt(v.ID, 10)
	if got := decode[domain.ReviewView](t, e.do(t, http.MethodGet, path, nil)); got.Status != domain.StatusPublish {
		t.Fatalf("initial status = %q", got.Status)
	}

	res := e.do(t, http.MethodPost, fmt.Sprintf("/v1/items/%d/status", v.ID), map[string]string{"status": domain.StatusPending})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	if got := decode[domain.ReviewView](t, e.do(t, http.MethodGet, path, nil)); got.Status != domain.StatusPending {
		t.Fatalf("read after status change = %q", got.Status)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	if res := e.do(t, http.MethodGet, "/healthz", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("healthy: status %d", res.StatusCode)
	}

	down := newEnv(t, server.PingFunc(func(context.Context) error { return errors.New("db down") }))
	if res := down.do(t, http.MethodGet, "/healthz", nil); res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: want 503, got %d", res.StatusCode)
	}
}
