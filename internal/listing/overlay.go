package listing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ClauseKind names a clause the overlay can rewrite.
type ClauseKind int

const (
	ClauseJoin ClauseKind = iota
	ClauseWhere
	ClauseOrderBy
)

type clauseModifier func(o *Overlay, c *Clauses, req Request)

// clauseModifiers is resolved statically per clause kind; clauseOrder keeps
// the application order stable.
var (
	clauseModifiers = map[ClauseKind]clauseModifier{
		ClauseJoin:    modifyJoin,
		ClauseWhere:   modifyWhere,
		ClauseOrderBy: modifyOrderBy,
	}
	clauseOrder = []ClauseKind{ClauseJoin, ClauseWhere, ClauseOrderBy}
)

type filterKind int

const (
	filterString filterKind = iota
	filterInt
)

// Recognized filter parameters, keyed by request parameter = ratings column.
var defaultFilters = map[string]filterKind{
	"rating": filterInt,
	"type":   filterString,
}

// Recognized orderby keys mapped to ratings columns.
var defaultOrderBy = map[string]string{
	"author_email": "email",
	"author_name":  "name",
	"email":        "email",
	"ip_address":   "ip_address",
	"is_pinned":    "is_pinned",
	"name":         "name",
	"rating":       "rating",
	"type":         "type",
}

// Text columns whose empty string sorts like NULL.
var defaultNullable = []string{"email", "name", "ip_address", "type"}

// Overlay injects the ratings table into listings of the managed item type.
type Overlay struct {
	itemType   string
	itemTable  string
	table      string
	nullsFirst bool
	nullable   map[string]struct{}
	onApply    func()
}

type Option func(*Overlay)

// WithTable sets the ratings table name (default "ratings").
func WithTable(t string) Option { return func(o *Overlay) { o.table = t } }

// WithItemTable sets the alias of the item table in the base query (default "p").
func WithItemTable(t string) Option { return func(o *Overlay) { o.itemTable = t } }

// WithNullsFirst groups empty and NULL values first instead of last.
func WithNullsFirst(v bool) Option { return func(o *Overlay) { o.nullsFirst = v } }

// WithNullableColumns adds columns to the empty-as-NULL set.
func WithNullableColumns(cols ...string) Option {
	return func(o *Overlay) {
		for _, c := range cols {
			o.nullable[c] = struct{}{}
		}
	}
}

// OnApply registers a callback run each time the overlay rewrites a query.
func OnApply(fn func()) Option { return func(o *Overlay) { o.onApply = fn } }

func New(itemType string, opts ...Option) *Overlay {
	o := &Overlay{
		itemType:  itemType,
		itemTable: "p",
		table:     "ratings",
		nullable:  make(map[string]struct{}, len(defaultNullable)),
	}
	for _, c := range defaultNullable {
		o.nullable[c] = struct{}{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Applies reports whether req targets the managed type and filters or
// orders by a ratings column.
func (o *Overlay) Applies(req Request) bool {
	if req.ItemType != o.itemType {
		return false
	}
	return len(o.filters(req)) > 0 || o.orderColumn(req) != ""
}

// PrepareRequest redirects a sort on the response column to its meta key.
func (o *Overlay) PrepareRequest(req Request) Request {
	if req.ItemType != o.itemType {
		return req
	}
	if req.OrderBy == "response" {
		req.MetaKey = "_response"
		req.OrderBy = "meta_value"
	}
	return req
}

// FilterClauses rewrites c when the overlay applies and passes it through
// unchanged otherwise.
func (o *Overlay) FilterClauses(c Clauses, req Request) Clauses {
	if !o.Applies(req) {
		return c
	}
	for _, kind := range clauseOrder {
		clauseModifiers[kind](o, &c, req)
	}
	if o.onApply != nil {
		o.onApply()
	}
	return c
}

func modifyJoin(o *Overlay, c *Clauses, _ Request) {
	c.Join += fmt.Sprintf(" INNER JOIN %s ON %s.review_id = %s.id ", o.table, o.table, o.itemTable)
}

func modifyWhere(o *Overlay, c *Clauses, req Request) {
	filters := o.filters(req)
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Where += fmt.Sprintf(" AND %s.%s = ? ", o.table, k)
		c.WhereArgs = append(c.WhereArgs, filters[k])
	}
}

func modifyOrderBy(o *Overlay, c *Clauses, req Request) {
	column := o.orderColumn(req)
	if column == "" {
		return
	}
	orderBy := fmt.Sprintf("%s.%s %s", o.table, column, req.Direction())
	if _, ok := o.nullable[column]; ok {
		tieBreak := fmt.Sprintf("NULLIF(%s.%s, '') IS NULL", o.table, column)
		if o.nullsFirst {
			tieBreak += " DESC"
		}
		orderBy = tieBreak + ", " + orderBy
	}
	c.OrderBy = orderBy
}

// filters returns the recognized, sanitized, non-empty filter values.
func (o *Overlay) filters(req Request) map[string]any {
	out := map[string]any{}
	for key, kind := range defaultFilters {
		raw := strings.TrimSpace(req.Filters[key])
		if raw == "" {
			continue
		}
		switch kind {
		case filterInt:
			n, err := strconv.Atoi(sanitizeInt(raw))
			if err != nil || n == 0 {
				continue
			}
			out[key] = n
		default:
			out[key] = raw
		}
	}
	return out
}

func (o *Overlay) orderColumn(req Request) string {
	return defaultOrderBy[req.OrderBy]
}

// sanitizeInt keeps digits and sign characters.
func sanitizeInt(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '-' || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
