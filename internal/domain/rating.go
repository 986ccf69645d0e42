package domain

import "slices"

// Canonical tables owned by the rating store.
const (
	TableRatings       = "ratings"
	TableAssignedPosts = "assigned_posts"
	TableAssignedTerms = "assigned_terms"
	TableAssignedUsers = "assigned_users"
)

// DefaultReviewType is the type tag of reviews submitted on this site.
const DefaultReviewType = "local"

// Content store names of the review item type and its category taxonomy.
const (
	ReviewItemType = "site-review"
	ReviewTaxonomy = "site-review-category"
)

// RatingColumns is the ordered Rating schema used for bulk writes.
var RatingColumns = []string{
	"review_id",
	"rating",
	"type",
	"is_approved",
	"is_pinned",
	"name",
	"email",
	"avatar",
	"ip_address",
	"url",
	"response",
}

// UpdatableRatingColumns excludes the review_id key.
var UpdatableRatingColumns = slices.Clone(RatingColumns[1:])

// Rating is one canonical ratings row.
type Rating struct {
	ID         int64
	ReviewID   int64
	Rating     int
	Type       string
	IsApproved bool
	IsPinned   bool
	Name       string
	Email      string
	Avatar     string
	IPAddress  string
	URL        string
	Response   string
}

// Row returns the rating as a column map restricted to RatingColumns.
func (r Rating) Row() map[string]any {
	t := r.Type
	if t == "" {
		t = DefaultReviewType
	}
	return map[string]any{
		"review_id":   r.ReviewID,
		"rating":      r.Rating,
		"type":        t,
		"is_approved": r.IsApproved,
		"is_pinned":   r.IsPinned,
		"name":        r.Name,
		"email":       r.Email,
		"avatar":      r.Avatar,
		"ip_address":  r.IPAddress,
		"url":         r.URL,
		"response":    r.Response,
	}
}

// AssignmentKind names one of the three many-to-many target kinds.
type AssignmentKind string

const (
	AssignPost AssignmentKind = "post"
	AssignTerm AssignmentKind = "term"
	AssignUser AssignmentKind = "user"
)

// AssignmentKinds lists every kind in import order.
var AssignmentKinds = []AssignmentKind{AssignPost, AssignTerm, AssignUser}

// Table returns the join table for the kind.
func (k AssignmentKind) Table() string {
	switch k {
	case AssignPost:
		return TableAssignedPosts
	case AssignTerm:
		return TableAssignedTerms
	case AssignUser:
		return TableAssignedUsers
	}
	return ""
}

// TargetColumn returns the target id column of the kind's join table.
func (k AssignmentKind) TargetColumn() string {
	return string(k) + "_id"
}

// Columns returns the ordered column whitelist of the kind's join table.
func (k AssignmentKind) Columns() []string {
	if k == AssignPost {
		return []string{"rating_id", "post_id", "is_published"}
	}
	return []string{"rating_id", k.TargetColumn()}
}

// ParseAssignmentKind accepts "post", "posts", "term", "terms", "user", "users".
func ParseAssignmentKind(s string) (AssignmentKind, bool) {
	switch s {
	case "post", "posts":
		return AssignPost, true
	case "term", "terms":
		return AssignTerm, true
	case "user", "users":
		return AssignUser, true
	}
	return "", false
}

// TableColumns is the per-table column whitelist enforced by the bulk writer.
var TableColumns = map[string][]string{
	TableRatings:       append([]string{"id"}, RatingColumns...),
	TableAssignedPosts: AssignPost.Columns(),
	TableAssignedTerms: AssignTerm.Columns(),
	TableAssignedUsers: AssignUser.Columns(),
}
