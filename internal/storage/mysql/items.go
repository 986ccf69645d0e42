package mysql

import (
	"context"
	"database/sql"
	"strings"

	"rating_store/internal/domain"
	"rating_store/internal/listing"
)

const itemColumns = "p.id, p.post_type, p.post_status, p.post_name, p.post_title, p.post_content, p.post_author, p.post_parent, p.post_date"

// ListItems runs a generic item listing through the registered hooks.
func (r *Repo) ListItems(ctx context.Context, req listing.Request) ([]domain.Item, error) {
	req, c := r.itemClauses(req)
	query := "SELECT " + itemColumns + " FROM posts p" + c.Join + "WHERE 1=1" + c.Where + " ORDER BY " + c.OrderBy
	args := append(append([]any{}, c.JoinArgs...), c.WhereArgs...)
	if req.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, req.Limit, max(req.Offset, 0))
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Item
	for rows.Next() {
		var it domain.Item
		var date sql.NullString
		if err := rows.Scan(&it.ID, &it.Type, &it.Status, &it.Name, &it.Title, &it.Content, &it.Author, &it.Parent, &date); err != nil {
			return nil, err
		}
		it.Date = date.String
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountItems counts the rows ListItems would return without paging.
func (r *Repo) CountItems(ctx context.Context, req listing.Request) (int, error) {
	_, c := r.itemClauses(req)
	args := append(append([]any{}, c.JoinArgs...), c.WhereArgs...)
	var n int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts p"+c.Join+"WHERE 1=1"+c.Where, args...).Scan(&n)
	return n, err
}

func (r *Repo) itemClauses(req listing.Request) (listing.Request, listing.Clauses) {
	for _, h := range r.hooks {
		req = h.PrepareRequest(req)
	}
	c := baseClauses(req)
	for _, h := range r.hooks {
		c = h.FilterClauses(c, req)
	}
	return req, c
}

func baseClauses(req listing.Request) listing.Clauses {
	c := listing.Clauses{Join: " "}
	if req.ItemType != "" {
		c.Where += " AND p.post_type = ?"
		c.WhereArgs = append(c.WhereArgs, req.ItemType)
	}
	if req.Status != "" {
		c.Where += " AND p.post_status = ?"
		c.WhereArgs = append(c.WhereArgs, req.Status)
	} else {
		c.Where += " AND p.post_status <> 'trash'"
	}

	dir := req.Direction()
	switch req.OrderBy {
	case "title":
		c.OrderBy = "p.post_title " + dir + ", p.id " + dir
	case "id":
		c.OrderBy = "p.id " + dir
	case "date":
		c.OrderBy = "p.post_date " + dir + ", p.id " + dir
	case "meta_value":
		if strings.TrimSpace(req.MetaKey) != "" {
			c.Join += " LEFT JOIN post_meta pm ON pm.post_id = p.id AND pm.meta_key = ? "
			c.JoinArgs = append(c.JoinArgs, req.MetaKey)
			c.OrderBy = "pm.meta_value " + dir + ", p.id " + dir
			break
		}
		fallthrough
	default:
		c.OrderBy = "p.post_date DESC, p.id DESC"
	}
	return c
}
