package domain

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ReviewProjection is the flat query-time row joined across ratings, the
// review's content item and the three assignment tables.
type ReviewProjection struct {
	ReviewID   int64  `json:"review_id"`
	RatingID   int64  `json:"id"`
	Rating     int    `json:"rating"`
	Type       string `json:"type"`
	IsApproved bool   `json:"is_approved"`
	IsPinned   bool   `json:"is_pinned"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Avatar     string `json:"avatar"`
	IPAddress  string `json:"ip_address"`
	URL        string `json:"url"`
	Response   string `json:"response"`
	AuthorID   int64  `json:"author_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	// comma separated, as produced by GROUP_CONCAT
	PostIDs string `json:"post_ids"`
	TermIDs string `json:"term_ids"`
	UserIDs string `json:"user_ids"`
}

// metaKeys is the whitelist of metadata keys a Review exposes.
var metaKeys = map[string]struct{}{
	"assigned_post_ids": {},
	"assigned_term_ids": {},
	"assigned_user_ids": {},
	"avatar":            {},
	"content":           {},
	"custom":            {},
	"date":              {},
	"email":             {},
	"ip_address":        {},
	"name":              {},
	"rating":            {},
	"response":          {},
	"title":             {},
	"type":              {},
	"url":               {},
}

var keyAliases = map[string]string{
	"approved":      "is_approved",
	"has_revisions": "is_modified",
	"modified":      "is_modified",
	"name":          "author",
	"pinned":        "is_pinned",
	"user_id":       "author_id",
}

// Review is the read-only view of one review. It has no setters; writes go
// through the review manager.
type Review struct {
	p     ReviewProjection
	posts []int64
	terms []int64
	users []int64
	src   MetaSource

	mu         sync.Mutex
	meta       map[string]any
	revChecked bool
	modified   bool
}

// NewReview materializes a Review. src may be nil, in which case metadata
// and revisions are empty.
func NewReview(p ReviewProjection, src MetaSource) *Review {
	return &Review{
		p:     p,
		posts: UniqueInt(p.PostIDs),
		terms: UniqueInt(p.TermIDs),
		users: UniqueInt(p.UserIDs),
		src:   src,
	}
}

func (r *Review) ID() int64 { return r.p.ReviewID }
func (r *Review) RatingID() int64 { return r.p.RatingID }
func (r *Review) Rating() int { return r.p.Rating }
func (r *Review) Type() string { return r.p.Type }
func (r *Review) IsApproved() bool { return r.p.IsApproved }
func (r *Review) IsPinned() bool { return r.p.IsPinned }
func (r *Review) Author() string { return r.p.Name }
func (r *Review) AuthorID() int64 { return r.p.AuthorID }
func (r *Review) Email() string { return r.p.Email }
func (r *Review) Avatar() string { return r.p.Avatar }
func (r *Review) IPAddress() string { return r.p.IPAddress }
func (r *Review) URL() string { return r.p.URL }
func (r *Review) Title() string { return r.p.Title }
func (r *Review) Content() string { return r.p.Content }
func (r *Review) Date() string { return r.p.Date }
func (r *Review) Status() string { return r.p.Status }
func (r *Review) Projection() ReviewProjection { return r.p }

func (r *Review) AssignedPosts() []int64 { return append([]int64(nil), r.posts...) }
func (r *Review) AssignedTerms() []int64 { return append([]int64(nil), r.terms...) }
func (r *Review) AssignedUsers() []int64 { return append([]int64(nil), r.users...) }

// IsValid reports whether the review has both a content item and a rating
// row. False means the canonical tables are out of sync with the content.
func (r *Review) IsValid() bool {
	return r.p.ReviewID != 0 && r.p.RatingID != 0
}

// Response prefers the ratings column and falls back to metadata.
func (r *Review) Response(ctx context.Context) string {
	if r.p.Response != "" {
		return r.p.Response
	}
	s, _ := r.Meta(ctx)["response"].(string)
	return s
}

// Meta returns the whitelisted metadata, loading it on first use.
func (r *Review) Meta(ctx context.Context) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta == nil {
		r.loadMeta(ctx)
	}
	return cloneValue(r.meta).(map[string]any)
}

// cloneValue deep-copies decoded JSON so callers can not reach the
// entity's own maps and slices.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// Custom looks a key up in the custom metadata bag; nil when missing.
func (r *Review) Custom(ctx context.Context, key string) any {
	bag, ok := r.Meta(ctx)["custom"].(map[string]any)
	if !ok {
		return nil
	}
	return bag[key]
}

// IsModified reports whether the content item has revisions. The lookup
// runs at most once per Review.
func (r *Review) IsModified(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revChecked {
		return r.modified
	}
	if r.src == nil || r.p.ReviewID == 0 {
		r.revChecked = true
		return false
	}
	ids, err := r.src.ItemRevisionIDs(ctx, r.p.ReviewID)
	if err != nil {
		log.Error().Err(err).Int64("review_id", r.p.ReviewID).Msg("revision lookup failed")
		return false
	}
	r.modified = len(ids) > 0
	r.revChecked = true
	return r.modified
}

// Get resolves a field by key, honoring aliases and falling back to the
// custom bag. Unknown keys return nil.
func (r *Review) Get(ctx context.Context, key string) any {
	if alias, ok := keyAliases[key]; ok {
		key = alias
	}
	switch key {
	case "ID", "id", "review_id":
		return r.ID()
	case "rating_id":
		return r.RatingID()
	case "rating":
		return r.Rating()
	case "type":
		return r.Type()
	case "is_approved":
		return r.IsApproved()
	case "is_pinned":
		return r.IsPinned()
	case "is_modified":
		return r.IsModified(ctx)
	case "author":
		return r.Author()
	case "author_id":
		return r.AuthorID()
	case "email":
		return r.Email()
	case "avatar":
		return r.Avatar()
	case "ip_address":
		return r.IPAddress()
	case "url":
		return r.URL()
	case "title":
		return r.Title()
	case "content":
		return r.Content()
	case "date":
		return r.Date()
	case "status":
		return r.Status()
	case "response":
		return r.Response(ctx)
	case "assigned_posts":
		return r.AssignedPosts()
	case "assigned_terms":
		return r.AssignedTerms()
	case "assigned_users":
		return r.AssignedUsers()
	case "custom":
		return r.Meta(ctx)["custom"]
	}
	return r.Custom(ctx, key)
}

// loadMeta must be called with r.mu held. A failed load leaves r.meta nil
// so the next access retries.
func (r *Review) loadMeta(ctx context.Context) {
	if r.src == nil || r.p.ReviewID == 0 {
		r.meta = map[string]any{"custom": map[string]any{}}
		return
	}
	raw, err := r.src.ItemMeta(ctx, r.p.ReviewID)
	if err != nil {
		log.Error().Err(err).Int64("review_id", r.p.ReviewID).Msg("review meta load failed")
		return
	}
	meta := make(map[string]any, len(raw))
	for k, v := range raw {
		if v == "" {
			continue
		}
		k = strings.TrimPrefix(k, "_")
		if _, ok := metaKeys[k]; !ok {
			continue
		}
		meta[k] = decodeMetaValue(v)
	}
	if _, ok := meta["custom"].(map[string]any); !ok {
		meta["custom"] = map[string]any{}
	}
	r.meta = meta
}

// decodeMetaValue unwraps JSON encoded values and keeps plain strings as is.
func decodeMetaValue(v string) any {
	t := strings.TrimSpace(v)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(t), &out); err != nil {
		return v
	}
	return out
}

// ReviewView is the serializable form of a Review.
type ReviewView struct {
	ID            int64          `json:"id"`
	RatingID      int64          `json:"rating_id"`
	Rating        int            `json:"rating"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Date          string         `json:"date"`
	Status        string         `json:"status"`
	Author        string         `json:"author"`
	AuthorID      int64          `json:"author_id"`
	Email         string         `json:"email"`
	Avatar        string         `json:"avatar"`
	IPAddress     string         `json:"ip_address"`
	URL           string         `json:"url"`
	Response      string         `json:"response"`
	IsApproved    bool           `json:"is_approved"`
	IsPinned      bool           `json:"is_pinned"`
	IsModified    bool           `json:"is_modified"`
	AssignedPosts []int64        `json:"assigned_posts"`
	AssignedTerms []int64        `json:"assigned_terms"`
	AssignedUsers []int64        `json:"assigned_users"`
	Custom        map[string]any `json:"custom"`
}

// View resolves every lazy field and returns a plain value.
func (r *Review) View(ctx context.Context) ReviewView {
	custom, _ := r.Meta(ctx)["custom"].(map[string]any)
	return ReviewView{
		ID:            r.ID(),
		RatingID:      r.RatingID(),
		Rating:        r.Rating(),
		Type:          r.Type(),
		Title:         r.Title(),
		Content:       r.Content(),
		Date:          r.Date(),
		Status:        r.Status(),
		Author:        r.Author(),
		AuthorID:      r.AuthorID(),
		Email:         r.Email(),
		Avatar:        r.Avatar(),
		IPAddress:     r.IPAddress(),
		URL:           r.URL(),
		Response:      r.Response(ctx),
		IsApproved:    r.IsApproved(),
		IsPinned:      r.IsPinned(),
		IsModified:    r.IsModified(ctx),
		AssignedPosts: r.AssignedPosts(),
		AssignedTerms: r.AssignedTerms(),
		AssignedUsers: r.AssignedUsers(),
		Custom:        custom,
	}
}
