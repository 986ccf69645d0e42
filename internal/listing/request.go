// Package listing models a generic item listing query and the clause
// overlay that lets it filter and sort by rating store columns.
package listing

import "strings"

// Request is a generic "list items of type T" query.
type Request struct {
	ItemType string
	Status   string
	Filters  map[string]string
	OrderBy  string
	Order    string // ASC or DESC
	MetaKey  string // used when OrderBy is "meta_value"
	Limit    int
	Offset   int
}

// Direction returns the normalized sort direction; anything but DESC is ASC.
func (r Request) Direction() string {
	if strings.EqualFold(strings.TrimSpace(r.Order), "desc") {
		return "DESC"
	}
	return "ASC"
}

// Clauses are the SQL fragments of a listing query, in statement order.
// Join and Where are appended to; OrderBy is replaced.
type Clauses struct {
	Join      string
	JoinArgs  []any
	Where     string
	WhereArgs []any
	OrderBy   string
}

// Hook rewrites a listing query before it runs.
type Hook interface {
	// PrepareRequest adjusts the request before clauses are built.
	PrepareRequest(req Request) Request
	// FilterClauses rewrites the built clauses.
	FilterClauses(c Clauses, req Request) Clauses
}
