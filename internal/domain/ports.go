package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrCreateFailed = errors.New("review create failed")
	ErrUnknownTable = errors.New("unknown table")
	ErrNoColumns    = errors.New("no whitelisted columns")
)

// BulkWriter writes the canonical tables. Every call strips fields that are
// not in the table's column whitelist.
type BulkWriter interface {
	Insert(ctx context.Context, table string, row map[string]any) (int64, error)
	InsertBulk(ctx context.Context, table string, rows []map[string]any, columns []string) (int64, error)
	Update(ctx context.Context, table string, data, where map[string]any) (int64, error)
	Delete(ctx context.Context, table string, where map[string]any) (int64, error)
}

// PageStore is what one import page needs inside its transaction.
type PageStore interface {
	BulkWriter
	// RatingIDs maps review ids to rating ids for the rows that exist.
	RatingIDs(ctx context.Context, reviewIDs []int64) (map[int64]int64, error)
}

// Transactor runs fn against a PageStore bound to one transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(PageStore) error) error
}

type RatingRepository interface {
	PageStore
	ReviewProjection(ctx context.Context, reviewID int64) (ReviewProjection, error)
	ListProjections(ctx context.Context, q ReviewsQuery) ([]ReviewProjection, error)
	CountReviews(ctx context.Context, q ReviewsQuery) (int, error)
}

// LegacySource reads and consumes marker-tagged legacy rows.
type LegacySource interface {
	LegacyRows(ctx context.Context, marker string, offset, limit int) ([]LegacyRow, error)
	DeleteMarker(ctx context.Context, marker string) (int64, error)
}

// MigrationState tracks whether the store needs a migration run.
type MigrationState interface {
	Reset(ctx context.Context) error
	MarkMigrated(ctx context.Context) error
}

// MetaSource is the part of the content store a Review reads lazily.
type MetaSource interface {
	ItemMeta(ctx context.Context, id int64) (map[string]string, error)
	ItemRevisionIDs(ctx context.Context, id int64) ([]int64, error)
}

// ContentStore is the generic post/term/user backend the reviews live in.
type ContentStore interface {
	MetaSource
	CreateItem(ctx context.Context, it Item) (int64, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	DeleteItem(ctx context.Context, id int64) error
	SetItemStatus(ctx context.Context, id int64, status string) error
	SetItemMeta(ctx context.Context, id int64, key, value string) error
	SetItemTerms(ctx context.Context, id int64, termIDs []int64, taxonomy string) error
	// TermID resolves a term id or slug; 0 when the term does not exist.
	TermID(ctx context.Context, idOrSlug, taxonomy string) (int64, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Item is a content store record.
type Item struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Name    string `json:"name"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Author  int64  `json:"author"`
	Parent  int64  `json:"parent"`
	Date    string `json:"date"`
}

// Post statuses used by the store.
const (
	StatusPublish = "publish"
	StatusPending = "pending"
)

// Draft is a review submission.
type Draft struct {
	Type            string         `json:"type"`
	Title           string         `json:"title" validate:"max=200"`
	Content         string         `json:"content"`
	Date            string         `json:"date"`
	Rating          int            `json:"rating" validate:"gte=0,maxrating"`
	Name            string         `json:"name" validate:"max=250"`
	Email           string         `json:"email" validate:"omitempty,email"`
	Avatar          string         `json:"avatar"`
	IPAddress       string         `json:"ip_address" validate:"omitempty,ip"`
	URL             string         `json:"url"`
	AuthorID        int64          `json:"author_id" validate:"gte=0"`
	IsPinned        bool           `json:"is_pinned"`
	Blacklisted     bool           `json:"-"`
	Response        string         `json:"response"`
	AssignedPostIDs any            `json:"assigned_posts"`
	AssignedTermIDs any            `json:"assigned_terms"`
	AssignedUserIDs any            `json:"assigned_users"`
	Custom          map[string]any `json:"custom"`
}

// ReviewsQuery filters Manager.Reviews and Manager.Total identically.
type ReviewsQuery struct {
	Rating        int     // minimum rating, 0 for any
	Type          string  // review type, "" for any
	Status        string  // "approved", "unapproved" or "" for all
	Pinned        *bool   // nil for any
	AssignedPosts []int64 // any of
	AssignedTerms []int64
	AssignedUsers []int64
	OrderBy       string // "date" (default), "rating", "pinned"
	Page          int    // 1-based
	PerPage       int    // 0 for all rows
}

// Offset returns the row offset of the requested page.
func (q ReviewsQuery) Offset() int {
	if q.PerPage <= 0 || q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.PerPage
}
