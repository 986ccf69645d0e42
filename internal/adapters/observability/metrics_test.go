package observability_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rating_store/internal/adapters/observability"
)

func TestMetricsRegistryAndHandler(t *testing.T) {
	reg := observability.InitRegistry()

	// record one sample per family so counters are non-zero
	observability.ObserveHTTP("/test", "GET", 200, 12*time.Millisecond)
	observability.ObserveImport("imported", 3)
	observability.ObserveImportPage(40 * time.Millisecond)
	observability.ObserveOverlay()
	observability.ObserveReviewOp("create", errors.New("boom"))

	mh := observability.MetricsHandler(reg)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	mh.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	out := string(body)
	for _, name := range []string{
		"rating_store_http_requests_total",
		`rating_store_import_rows_total{result="imported"} 3`,
		"rating_store_import_page_duration_seconds",
		"rating_store_list_overlay_applied_total",
		`rating_store_review_operations_total{op="create",result="error"}`,
	} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in output", name)
		}
	}
}

func TestLabelErr(t *testing.T) {
	if got := observability.LabelErr(nil); got != "none" {
		t.Fatalf("nil label = %q", got)
	}
	if got := observability.LabelErr(errors.New("x")); got != "*errors.errorString" {
		t.Fatalf("label = %q", got)
	}
}
