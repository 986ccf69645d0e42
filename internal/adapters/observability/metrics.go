package observability

import (
	"fmt"
	"github.com/rs/zerolog/log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rating_store"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ImportRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "import_rows_total", Help: "Legacy rows processed by the importer."},
		[]string{"result"}, // result: imported|skipped|repaired
	)
	ImportPageLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "import_page_duration_seconds",
			Help:    "Wall time of one committed import page.",
			Buckets: prometheus.DefBuckets,
		},
	)
	OverlayApplied = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "list_overlay_applied_total", Help: "Item listings rewritten to join the ratings table."},
	)
	ReviewOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "review_operations_total", Help: "Review manager operations."},
		[]string{"op", "result"}, // result: ok|error
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
)

func Serve() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ImportRows, ImportPageLatency, OverlayApplied, ReviewOps, CacheEvents)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveImport(result string, n int) { // result: imported|skipped|repaired
	if n > 0 {
		ImportRows.WithLabelValues(result).Add(float64(n))
	}
}

func ObserveImportPage(dur time.Duration) { ImportPageLatency.Observe(dur.Seconds()) }

func ObserveOverlay() { OverlayApplied.Inc() }

func ObserveReviewOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ReviewOps.WithLabelValues(op, result).Inc()
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
