package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"rating_store/internal/adapters/observability"
	"rating_store/internal/app"
	"rating_store/internal/domain"
	"rating_store/internal/listing"
)

// ItemStore is the generic item listing backend.
type ItemStore interface {
	ListItems(ctx context.Context, req listing.Request) ([]domain.Item, error)
	CountItems(ctx context.Context, req listing.Request) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function such as (*sql.DB).PingContext to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handlers struct {
	M      *app.Manager
	Items  ItemStore
	State  domain.MigrationState
	Health []Pinger
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const maxBody = 1 << 20

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", h.healthz)
	s.mux.Route("/v1/reviews", func(r chi.Router) {
		r.Get("/", h.listReviews)
		r.Post("/", h.createReview)
		r.Get("/{id}", h.getReview)
		r.Patch("/{id}", h.updateReview)
		r.Delete("/{id}", h.deleteReview)
		r.Put("/{id}/assigned/{kind}/{target}", h.assign)
		r.Delete("/{id}/assigned/{kind}/{target}", h.unassign)
	})
	s.mux.Get("/v1/items", h.listItems)
	s.mux.Post("/v1/items/{id}/status", h.setItemStatus)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain errors to problems.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid Review", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
	case errors.Is(err, domain.ErrCreateFailed):
		writeProblem(w, http.StatusInternalServerError, "Create Failed", "review could not be created")
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeCached writes v with an ETag and answers 304 on a matching
// If-None-Match.
func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("route", routeOf(r)).Msg("failed to write body")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write body")
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.Health {
		if err := p.Ping(r.Context()); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// load fetches a review and runs the repair path when it has no rating row.
func (h *Handlers) load(w http.ResponseWriter, r *http.Request) (*domain.Review, bool) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return nil, false
	}
	rv, err := h.M.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if !rv.IsValid() {
		if h.State != nil {
			if err := h.State.Reset(r.Context()); err != nil {
				log.Error().Err(err).Int64("review_id", id).Msg("migration state reset failed")
			}
		}
		log.Warn().Int64("review_id", id).Msg("review has no rating row; migration is needed")
		writeProblem(w, http.StatusConflict, "Migration Required", "the rating store is out of sync with this review; a migration has been scheduled")
		return nil, false
	}
	return rv, true
}

func (h *Handlers) getReview(w http.ResponseWriter, r *http.Request) {
	rv, ok := h.load(w, r)
	if !ok {
		return
	}
	writeCached(w, r, rv.View(r.Context()))
}

type reviewsResponse struct {
	Items []domain.ReviewView `json:"items"`
	Total int                 `json:"total"`
	Page  int                 `json:"page"`
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	q, err := parseReviewsQuery(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Query", err.Error())
		return
	}
	page, err := h.M.Reviews(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	out := reviewsResponse{Items: make([]domain.ReviewView, 0, len(page.Reviews)), Total: page.Total, Page: max(q.Page, 1)}
	for _, rv := range page.Reviews {
		out.Items = append(out.Items, rv.View(r.Context()))
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(page.Total))
	writeCached(w, r, out)
}

func parseReviewsQuery(r *http.Request) (domain.ReviewsQuery, error) {
	v := r.URL.Query()
	q := domain.ReviewsQuery{
		Type:          v.Get("type"),
		Status:        v.Get("status"),
		OrderBy:       v.Get("orderby"),
		AssignedPosts: domain.UniqueInt(v.Get("assigned_posts")),
		AssignedTerms: domain.UniqueInt(v.Get("assigned_terms")),
		AssignedUsers: domain.UniqueInt(v.Get("assigned_users")),
		Page:          1,
		PerPage:       20,
	}
	ints := []struct {
		key      string
		dst      *int
		min, max int
	}{
		{"rating", &q.Rating, 0, 100},
		{"page", &q.Page, 1, 1 << 20},
		{"per_page", &q.PerPage, 0, 200},
	}
	for _, it := range ints {
		s := v.Get(it.key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < it.min || n > it.max {
			return q, errors.New(it.key + " must be an integer between " + strconv.Itoa(it.min) + " and " + strconv.Itoa(it.max))
		}
		*it.dst = n
	}
	if s := v.Get("pinned"); s != "" {
		b := domain.ParseBool(s)
		q.Pinned = &b
	}
	switch q.Status {
	case "", "approved", "unapproved":
	default:
		return q, errors.New("status must be approved or unapproved")
	}
	return q, nil
}

func (h *Handlers) createReview(w http.ResponseWriter, r *http.Request) {
	var d domain.Draft
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&d); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "body must be a JSON review")
		return
	}
	if d.IPAddress == "" {
		d.IPAddress = remoteIP(r)
	}
	rv, err := h.M.Create(r.Context(), d)
	observability.ObserveReviewOp("create", err)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/reviews/"+strconv.FormatInt(rv.ID(), 10))
	writeJSON(w, http.StatusCreated, rv.View(r.Context()))
}

func (h *Handlers) updateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	var data map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&data); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "body must be a JSON object")
		return
	}
	n, err := h.M.Update(r.Context(), id, data)
	observability.ObserveReviewOp("update", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	n, err := h.M.Delete(r.Context(), id)
	observability.ObserveReviewOp("delete", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handlers) assign(w http.ResponseWriter, r *http.Request)   { h.assignment(w, r, true) }
func (h *Handlers) unassign(w http.ResponseWriter, r *http.Request) { h.assignment(w, r, false) }

func (h *Handlers) assignment(w http.ResponseWriter, r *http.Request, add bool) {
	kind, ok := domain.ParseAssignmentKind(chi.URLParam(r, "kind"))
	if !ok {
		writeProblem(w, http.StatusNotFound, "Not Found", "kind must be posts, terms or users")
		return
	}
	target, ok := pathID(r, "target")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid Target", "target must be a positive number")
		return
	}
	rv, ok := h.load(w, r)
	if !ok {
		return
	}
	op, call := "unassign", h.M.Unassign
	if add {
		op, call = "assign", h.M.Assign
	}
	n, err := call(r.Context(), rv, kind, target)
	observability.ObserveReviewOp(op+"_"+string(kind), err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"affected": n})
}

type itemsResponse struct {
	Items []domain.Item `json:"items"`
	Total int           `json:"total"`
}

// reserved are the listing parameters that are not column filters.
var reserved = map[string]bool{"item_type": true, "status": true, "orderby": true, "order": true, "limit": true, "offset": true}

func (h *Handlers) listItems(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	req := listing.Request{
		ItemType: v.Get("item_type"),
		Status:   v.Get("status"),
		OrderBy:  v.Get("orderby"),
		Order:    v.Get("order"),
		Filters:  map[string]string{},
		Limit:    20,
	}
	if req.ItemType == "" {
		req.ItemType = domain.ReviewItemType
	}
	for _, k := range []string{"limit", "offset"} {
		s := v.Get(k)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || (k == "limit" && n > 200) {
			writeProblem(w, http.StatusBadRequest, "Invalid Query", k+" must be a non-negative integer")
			return
		}
		if k == "limit" {
			req.Limit = n
		} else {
			req.Offset = n
		}
	}
	for k := range v {
		if !reserved[k] {
			req.Filters[k] = strings.TrimSpace(v.Get(k))
		}
	}

	items, err := h.Items.ListItems(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("list items failed")
		writeError(w, err)
		return
	}
	total, err := h.Items.CountItems(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("count items failed")
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Item{}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeCached(w, r, itemsResponse{Items: items, Total: total})
}

func (h *Handlers) setItemStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive number")
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil || body.Status == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", `body must be {"status": "..."}`)
		return
	}
	n, err := h.M.SetItemStatus(r.Context(), id, body.Status)
	observability.ObserveReviewOp("set_item_status", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"affected": n})
}
