package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"rating_store/internal/domain"
)

// CreateHook runs after the review's content item exists. Hook errors are
// logged and do not undo the item.
type CreateHook func(ctx context.Context, item domain.Item, d domain.Draft) error

// Manager owns every write to the ratings and assignment tables.
type Manager struct {
	repo     domain.RatingRepository
	content  domain.ContentStore
	queries  *QueryService
	cache    *RatingCache
	validate *validator.Validate
	hooks    []CreateHook

	maxRating       int
	requireApproval bool
}

type ManagerOption func(*Manager)

// WithApprovalRequired holds new local reviews as pending.
func WithApprovalRequired(v bool) ManagerOption {
	return func(m *Manager) { m.requireApproval = v }
}

// WithMaxRating sets the top of the rating scale.
func WithMaxRating(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxRating = n
		}
	}
}

// WithCreateHook appends a hook after the built-in rating hook.
func WithCreateHook(h CreateHook) ManagerOption {
	return func(m *Manager) { m.hooks = append(m.hooks, h) }
}

func NewManager(repo domain.RatingRepository, content domain.ContentStore, cache domain.Cache, opts ...ManagerOption) *Manager {
	rc := NewRatingCache(cache)
	m := &Manager{
		repo:      repo,
		content:   content,
		cache:     rc,
		queries:   NewQueryService(repo, content, rc),
		maxRating: DefaultMaxRating,
	}
	m.hooks = []CreateHook{m.storeRating}
	for _, o := range opts {
		o(m)
	}
	m.validate = NewValidator(m.maxRating)
	return m
}

// Validator returns the validator configured with the manager's rating scale.
func (m *Manager) Validator() *validator.Validate { return m.validate }

// Create inserts the content item, runs the create hooks, reconciles the
// draft's terms and returns the stored review.
func (m *Manager) Create(ctx context.Context, d domain.Draft) (*domain.Review, error) {
	if d.Type == "" {
		d.Type = domain.DefaultReviewType
	}
	if err := validateStruct(m.validate, d); err != nil {
		return nil, err
	}
	item := domain.Item{
		Type:    domain.ReviewItemType,
		Status:  m.postStatus(d.Type, d.Blacklisted),
		Name:    d.Type + "-" + uuid.NewString(),
		Title:   d.Title,
		Content: d.Content,
		Author:  d.AuthorID,
		Date:    d.Date,
	}
	id, err := m.content.CreateItem(ctx, item)
	if err != nil {
		log.Error().Err(err).
			Str("type", item.Type).
			Str("status", item.Status).
			Str("name", item.Name).
			Str("title", item.Title).
			Str("date", item.Date).
			Int64("author", item.Author).
			Msg("review item create failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrCreateFailed, err)
	}
	item.ID = id
	for _, h := range m.hooks {
		if err := h(ctx, item, d); err != nil {
			log.Error().Err(err).Int64("review_id", id).Msg("review create hook failed")
		}
	}
	m.setTerms(ctx, id, d.AssignedTermIDs)
	return m.Get(ctx, id)
}

// storeRating is the built-in create hook: it writes the rating row, the
// post and user assignments and the draft's metadata.
func (m *Manager) storeRating(ctx context.Context, item domain.Item, d domain.Draft) error {
	rating := domain.Rating{
		ReviewID:   item.ID,
		Rating:     d.Rating,
		Type:       d.Type,
		IsApproved: item.Status == domain.StatusPublish,
		IsPinned:   d.IsPinned,
		Name:       d.Name,
		Email:      d.Email,
		Avatar:     d.Avatar,
		IPAddress:  d.IPAddress,
		URL:        d.URL,
		Response:   d.Response,
	}
	if _, err := m.repo.Insert(ctx, domain.TableRatings, rating.Row()); err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	if len(d.Custom) > 0 {
		b, err := json.Marshal(d.Custom)
		if err != nil {
			return fmt.Errorf("encode custom: %w", err)
		}
		if err := m.content.SetItemMeta(ctx, item.ID, "_custom", string(b)); err != nil {
			return fmt.Errorf("store custom: %w", err)
		}
	}
	if d.Response != "" {
		if err := m.content.SetItemMeta(ctx, item.ID, "_response", d.Response); err != nil {
			return fmt.Errorf("store response: %w", err)
		}
	}

	ids, err := m.repo.RatingIDs(ctx, []int64{item.ID})
	if err != nil {
		return fmt.Errorf("resolve rating: %w", err)
	}
	r := domain.NewReview(domain.ReviewProjection{ReviewID: item.ID, RatingID: ids[item.ID]}, nil)
	for _, postID := range domain.UniqueInt(d.AssignedPostIDs) {
		_, _ = m.AssignPost(ctx, r, postID)
	}
	for _, userID := range domain.UniqueInt(d.AssignedUserIDs) {
		_, _ = m.AssignUser(ctx, r, userID)
	}
	return nil
}

// Get always goes to the query layer, which serves from the cache when it can.
func (m *Manager) Get(ctx context.Context, id int64) (*domain.Review, error) {
	r, err := m.queries.Review(ctx, id)
	if err != nil && !isNotFound(err) {
		log.Error().Err(err).Int64("review_id", id).Msg("review get failed")
	}
	return r, err
}

// ReviewsPage is one page of reviews and the unpaged total.
type ReviewsPage struct {
	Reviews []*domain.Review
	Total   int
	Query   domain.ReviewsQuery
}

func (m *Manager) Reviews(ctx context.Context, q domain.ReviewsQuery) (ReviewsPage, error) {
	rs, err := m.queries.Reviews(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("reviews list failed")
		return ReviewsPage{Query: q}, err
	}
	total, err := m.Total(ctx, q)
	if err != nil {
		return ReviewsPage{Query: q}, err
	}
	return ReviewsPage{Reviews: rs, Total: total, Query: q}, nil
}

// Total counts the reviews matching q with the filters Reviews uses.
func (m *Manager) Total(ctx context.Context, q domain.ReviewsQuery) (int, error) {
	n, err := m.queries.Total(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("reviews count failed")
	}
	return n, err
}

// Update writes the whitelisted rating fields of data. Nothing to write is
// (0, nil).
func (m *Manager) Update(ctx context.Context, id int64, data map[string]any) (int64, error) {
	fields := make(map[string]any, len(data))
	for _, c := range domain.UpdatableRatingColumns {
		if v, ok := data[c]; ok {
			fields[c] = v
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}
	if err := m.coerceRatingFields(fields); err != nil {
		return 0, err
	}
	m.cache.Delete(ctx, id, ReviewsGroup)
	n, err := m.repo.Update(ctx, domain.TableRatings, fields, map[string]any{"review_id": id})
	if err != nil {
		log.Error().Err(err).Int64("review_id", id).Msg("rating update failed")
		return 0, err
	}
	if resp, ok := fields["response"].(string); ok {
		if err := m.content.SetItemMeta(ctx, id, "_response", resp); err != nil {
			log.Error().Err(err).Int64("review_id", id).Msg("response meta update failed")
		}
	}
	return n, nil
}

// Delete removes the rating row of the review and its assignments. The
// content item is kept.
func (m *Manager) Delete(ctx context.Context, id int64) (int64, error) {
	m.cache.Delete(ctx, id, ReviewsGroup)
	ids, err := m.repo.RatingIDs(ctx, []int64{id})
	if err != nil {
		log.Error().Err(err).Int64("review_id", id).Msg("rating lookup failed")
		return 0, err
	}
	if ratingID, ok := ids[id]; ok {
		for _, kind := range domain.AssignmentKinds {
			if _, err := m.repo.Delete(ctx, kind.Table(), map[string]any{"rating_id": ratingID}); err != nil {
				log.Error().Err(err).Int64("review_id", id).Str("kind", string(kind)).Msg("assignment cleanup failed")
				return 0, err
			}
		}
	}
	n, err := m.repo.Delete(ctx, domain.TableRatings, map[string]any{"review_id": id})
	if err != nil {
		log.Error().Err(err).Int64("review_id", id).Msg("rating delete failed")
	}
	return n, err
}

// DeleteRevisions removes every revision item of the review.
func (m *Manager) DeleteRevisions(ctx context.Context, id int64) (int64, error) {
	revs, err := m.content.ItemRevisionIDs(ctx, id)
	if err != nil {
		log.Error().Err(err).Int64("review_id", id).Msg("revision lookup failed")
		return 0, err
	}
	var n int64
	for _, rid := range revs {
		if err := m.content.DeleteItem(ctx, rid); err != nil {
			log.Error().Err(err).Int64("review_id", id).Int64("revision_id", rid).Msg("revision delete failed")
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Manager) AssignPost(ctx context.Context, r *domain.Review, postID int64) (int64, error) {
	return m.assign(ctx, r, domain.AssignPost, postID)
}

func (m *Manager) AssignTerm(ctx context.Context, r *domain.Review, termID int64) (int64, error) {
	return m.assign(ctx, r, domain.AssignTerm, termID)
}

func (m *Manager) AssignUser(ctx context.Context, r *domain.Review, userID int64) (int64, error) {
	return m.assign(ctx, r, domain.AssignUser, userID)
}

func (m *Manager) UnassignPost(ctx context.Context, r *domain.Review, postID int64) (int64, error) {
	return m.unassign(ctx, r, domain.AssignPost, postID)
}

func (m *Manager) UnassignTerm(ctx context.Context, r *domain.Review, termID int64) (int64, error) {
	return m.unassign(ctx, r, domain.AssignTerm, termID)
}

func (m *Manager) UnassignUser(ctx context.Context, r *domain.Review, userID int64) (int64, error) {
	return m.unassign(ctx, r, domain.AssignUser, userID)
}

// Assign and Unassign dispatch on kind; used by the HTTP layer.
func (m *Manager) Assign(ctx context.Context, r *domain.Review, kind domain.AssignmentKind, target int64) (int64, error) {
	return m.assign(ctx, r, kind, target)
}

func (m *Manager) Unassign(ctx context.Context, r *domain.Review, kind domain.AssignmentKind, target int64) (int64, error) {
	return m.unassign(ctx, r, kind, target)
}

func (m *Manager) assign(ctx context.Context, r *domain.Review, kind domain.AssignmentKind, target int64) (int64, error) {
	m.cache.Delete(ctx, r.ID(), ReviewsGroup)
	if !r.IsValid() || target <= 0 {
		return 0, fmt.Errorf("%w: assign %s %d to review %d", domain.ErrValidation, kind, target, r.ID())
	}
	row := map[string]any{"rating_id": r.RatingID(), kind.TargetColumn(): target}
	if kind == domain.AssignPost {
		row["is_published"] = m.isPublished(ctx, target)
	}
	n, err := m.repo.Insert(ctx, kind.Table(), row)
	if err != nil {
		log.Error().Err(err).Int64("review_id", r.ID()).Str("kind", string(kind)).Int64("target", target).Msg("assign failed")
	}
	return n, err
}

func (m *Manager) unassign(ctx context.Context, r *domain.Review, kind domain.AssignmentKind, target int64) (int64, error) {
	m.cache.Delete(ctx, r.ID(), ReviewsGroup)
	if !r.IsValid() {
		return 0, fmt.Errorf("%w: unassign from invalid review %d", domain.ErrValidation, r.ID())
	}
	n, err := m.repo.Delete(ctx, kind.Table(), map[string]any{"rating_id": r.RatingID(), kind.TargetColumn(): target})
	if err != nil {
		log.Error().Err(err).Int64("review_id", r.ID()).Str("kind", string(kind)).Int64("target", target).Msg("unassign failed")
	}
	return n, err
}

// SetItemStatus changes a content item's status. The item's own cached
// review is evicted first, then the publish flag of every assignment that
// targets the item is synced.
func (m *Manager) SetItemStatus(ctx context.Context, id int64, status string) (int64, error) {
	m.cache.Delete(ctx, id, ReviewsGroup)
	if err := m.content.SetItemStatus(ctx, id, status); err != nil {
		log.Error().Err(err).Int64("item_id", id).Str("status", status).Msg("item status update failed")
		return 0, err
	}
	return m.UpdateAssignedPost(ctx, id, status == domain.StatusPublish)
}

// UpdateAssignedPost syncs the denormalized publish flag of every
// assignment that targets postID.
func (m *Manager) UpdateAssignedPost(ctx context.Context, postID int64, isPublished bool) (int64, error) {
	n, err := m.repo.Update(ctx, domain.TableAssignedPosts,
		map[string]any{"is_published": isPublished},
		map[string]any{"post_id": postID},
	)
	if err != nil {
		log.Error().Err(err).Int64("post_id", postID).Msg("assigned post update failed")
	}
	return n, err
}

// NormalizeTermIDs resolves ids or slugs to existing review category ids.
// Unknown terms are dropped.
func (m *Manager) NormalizeTermIDs(ctx context.Context, v any) []int64 {
	raw := domain.ConvertFromString(v)
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := m.content.TermID(ctx, s, domain.ReviewTaxonomy)
		if err != nil {
			log.Warn().Err(err).Str("term", s).Msg("term lookup failed")
			continue
		}
		ids = append(ids, id)
	}
	return domain.UniqueInt(ids)
}

// setTerms tags the item and mirrors the tags into assigned_terms. Failures
// are logged; the review stays.
func (m *Manager) setTerms(ctx context.Context, id int64, v any) {
	termIDs := m.NormalizeTermIDs(ctx, v)
	if len(termIDs) == 0 {
		return
	}
	if err := m.content.SetItemTerms(ctx, id, termIDs, domain.ReviewTaxonomy); err != nil {
		log.Error().Err(err).Int64("review_id", id).Msg("set review terms failed")
		return
	}
	ids, err := m.repo.RatingIDs(ctx, []int64{id})
	if err != nil {
		log.Error().Err(err).Int64("review_id", id).Msg("rating lookup failed")
		return
	}
	r := domain.NewReview(domain.ReviewProjection{ReviewID: id, RatingID: ids[id]}, nil)
	for _, t := range termIDs {
		_, _ = m.AssignTerm(ctx, r, t)
	}
}

func (m *Manager) postStatus(reviewType string, blacklisted bool) string {
	if reviewType == domain.DefaultReviewType && (m.requireApproval || blacklisted) {
		return domain.StatusPending
	}
	return domain.StatusPublish
}

func (m *Manager) isPublished(ctx context.Context, postID int64) bool {
	it, err := m.content.GetItem(ctx, postID)
	if err != nil {
		return false
	}
	return it.Status == domain.StatusPublish
}

// coerceRatingFields converts loosely typed input, decoded JSON included,
// into column values and range-checks the rating.
func (m *Manager) coerceRatingFields(f map[string]any) error {
	if v, ok := f["rating"]; ok {
		n, ok := toInt(v)
		if !ok || n < 0 || n > m.maxRating {
			return fmt.Errorf("%w: rating must be between 0 and %d", domain.ErrValidation, m.maxRating)
		}
		f["rating"] = n
	}
	for _, k := range []string{"is_approved", "is_pinned"} {
		if v, ok := f[k]; ok {
			f[k] = toBool(v)
		}
	}
	for k, v := range f {
		switch k {
		case "rating", "is_approved", "is_pinned":
		default:
			if v == nil {
				f[k] = ""
			} else if _, ok := v.(string); !ok {
				f[k] = fmt.Sprint(v)
			}
		}
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case int64:
		return b != 0
	case float64:
		return b != 0
	case string:
		return domain.ParseBool(b)
	}
	return false
}
