package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rating_store/internal/domain"
)

// CreateItem inserts a post and returns its id.
func (r *Repo) CreateItem(ctx context.Context, it domain.Item) (int64, error) {
	date := time.Now().UTC()
	if it.Date != "" {
		if t, err := parseDate(it.Date); err == nil {
			date = t
		}
	}
	if it.Type == "" {
		it.Type = "post"
	}
	if it.Status == "" {
		it.Status = domain.StatusPublish
	}
	res, err := r.q.ExecContext(ctx, insertItemSQL,
		it.Type,
		it.Status,
		it.Name,
		it.Title,
		it.Content,
		it.Author,
		it.Parent,
		date.Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repo) GetItem(ctx context.Context, id int64) (domain.Item, error) {
	var it domain.Item
	var date sql.NullString
	err := r.q.QueryRowContext(ctx, getItemSQL, id).Scan(
		&it.ID, &it.Type, &it.Status, &it.Name, &it.Title, &it.Content, &it.Author, &it.Parent, &date,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Item{}, err
	}
	it.Date = date.String
	return it, nil
}

// DeleteItem removes a post together with its meta and term links.
func (r *Repo) DeleteItem(ctx context.Context, id int64) error {
	for _, stmt := range []string{
		"DELETE FROM post_meta WHERE post_id = ?",
		"DELETE FROM term_relationships WHERE object_id = ?",
		"DELETE FROM posts WHERE id = ?",
	} {
		if _, err := r.q.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete post %d: %w", id, err)
		}
	}
	return nil
}

// SetItemStatus changes a post's status.
func (r *Repo) SetItemStatus(ctx context.Context, id int64, status string) error {
	_, err := r.q.ExecContext(ctx, "UPDATE posts SET post_status = ? WHERE id = ?", status, id)
	return err
}

// ItemMeta returns the first value of every meta key of the post.
func (r *Repo) ItemMeta(ctx context.Context, id int64) (map[string]string, error) {
	rows, err := r.q.QueryContext(ctx, itemMetaSQL, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if _, ok := out[k]; !ok {
			out[k] = v.String
		}
	}
	return out, rows.Err()
}

// SetItemMeta replaces every value of key on the post with value.
func (r *Repo) SetItemMeta(ctx context.Context, id int64, key, value string) error {
	if _, err := r.q.ExecContext(ctx, "DELETE FROM post_meta WHERE post_id = ? AND meta_key = ?", id, key); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, "INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)", id, key, value)
	return err
}

// SetItemTerms replaces the post's terms in taxonomy.
func (r *Repo) SetItemTerms(ctx context.Context, id int64, termIDs []int64, taxonomy string) error {
	if _, err := r.q.ExecContext(ctx, clearItemTermsSQL, id, taxonomy); err != nil {
		return fmt.Errorf("clear terms: %w", err)
	}
	if len(termIDs) == 0 {
		return nil
	}
	values := make([]string, 0, len(termIDs))
	args := make([]any, 0, len(termIDs)*2)
	for _, t := range termIDs {
		values = append(values, "(?, ?)")
		args = append(args, id, t)
	}
	q := r.dialect.insertIgnore() + " term_relationships (object_id, term_id) VALUES " + strings.Join(values, ",")
	if _, err := r.q.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("set terms: %w", err)
	}
	return nil
}

// CreateTerm inserts a taxonomy term and returns its id.
func (r *Repo) CreateTerm(ctx context.Context, taxonomy, slug, name string) (int64, error) {
	res, err := r.q.ExecContext(ctx, "INSERT INTO terms (taxonomy, slug, name) VALUES (?, ?, ?)", taxonomy, slug, name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TermID resolves a numeric id or a slug inside taxonomy; 0 when missing.
func (r *Repo) TermID(ctx context.Context, idOrSlug, taxonomy string) (int64, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	query, arg := "SELECT term_id FROM terms WHERE slug = ? AND taxonomy = ?", any(idOrSlug)
	if n, err := strconv.ParseInt(idOrSlug, 10, 64); err == nil {
		query, arg = "SELECT term_id FROM terms WHERE term_id = ? AND taxonomy = ?", n
	}
	var id int64
	err := r.q.QueryRowContext(ctx, query, arg, taxonomy).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (r *Repo) ItemRevisionIDs(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, revisionIDsSQL, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		out = append(out, rid)
	}
	return out, rows.Err()
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
