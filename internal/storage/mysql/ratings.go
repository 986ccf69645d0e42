package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rating_store/internal/domain"
)

func (r *Repo) ReviewProjection(ctx context.Context, reviewID int64) (domain.ReviewProjection, error) {
	row := r.q.QueryRowContext(ctx, projectionSelect+"WHERE r.review_id = ?", reviewID)
	p, err := scanProjection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReviewProjection{}, domain.ErrNotFound
	}
	return p, err
}

func (r *Repo) ListProjections(ctx context.Context, q domain.ReviewsQuery) ([]domain.ReviewProjection, error) {
	where, args := reviewsWhere(q)
	query := projectionSelect + where + " ORDER BY " + reviewsOrder(q.OrderBy)
	if q.PerPage > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.PerPage, q.Offset())
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReviewProjection
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountReviews counts with the same WHERE clause as ListProjections.
func (r *Repo) CountReviews(ctx context.Context, q domain.ReviewsQuery) (int, error) {
	where, args := reviewsWhere(q)
	var n int
	if err := r.q.QueryRowContext(ctx, countReviewsSelect+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) RatingIDs(ctx context.Context, reviewIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(reviewIDs))
	if len(reviewIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(reviewIDs))
	for i, id := range reviewIDs {
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx,
		"SELECT review_id, id FROM ratings WHERE review_id IN ("+placeholders(len(args))+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var reviewID, ratingID int64
		if err := rows.Scan(&reviewID, &ratingID); err != nil {
			return nil, err
		}
		out[reviewID] = ratingID
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanProjection(s scanner) (domain.ReviewProjection, error) {
	var p domain.ReviewProjection
	var typ, name, email, avatar, ip, url, response sql.NullString
	var title, content, date, status sql.NullString
	var postIDs, termIDs, userIDs sql.NullString
	if err := s.Scan(
		&p.RatingID,
		&p.ReviewID,
		&p.Rating,
		&typ,
		&p.IsApproved,
		&p.IsPinned,
		&name,
		&email,
		&avatar,
		&ip,
		&url,
		&response,
		&p.AuthorID,
		&title,
		&content,
		&date,
		&status,
		&postIDs,
		&termIDs,
		&userIDs,
	); err != nil {
		return domain.ReviewProjection{}, err
	}
	p.Type = typ.String
	p.Name = name.String
	p.Email = email.String
	p.Avatar = avatar.String
	p.IPAddress = ip.String
	p.URL = url.String
	p.Response = response.String
	p.Title = title.String
	p.Content = content.String
	p.Date = date.String
	p.Status = status.String
	p.PostIDs = postIDs.String
	p.TermIDs = termIDs.String
	p.UserIDs = userIDs.String
	return p, nil
}

// reviewsWhere is the single filter builder behind list and count.
func reviewsWhere(q domain.ReviewsQuery) (string, []any) {
	conds := []string{"p.post_status <> 'trash'"}
	var args []any
	if q.Rating > 0 {
		conds = append(conds, "r.rating >= ?")
		args = append(args, q.Rating)
	}
	if q.Type != "" {
		conds = append(conds, "r.type = ?")
		args = append(args, q.Type)
	}
	switch q.Status {
	case "approved":
		conds = append(conds, "r.is_approved = ?")
		args = append(args, true)
	case "unapproved":
		conds = append(conds, "r.is_approved = ?")
		args = append(args, false)
	}
	if q.Pinned != nil {
		conds = append(conds, "r.is_pinned = ?")
		args = append(args, *q.Pinned)
	}
	for _, a := range []struct {
		kind domain.AssignmentKind
		ids  []int64
	}{
		{domain.AssignPost, q.AssignedPosts},
		{domain.AssignTerm, q.AssignedTerms},
		{domain.AssignUser, q.AssignedUsers},
	} {
		if len(a.ids) == 0 {
			continue
		}
		conds = append(conds, fmt.Sprintf("r.id IN (SELECT rating_id FROM %s WHERE %s IN (%s))",
			a.kind.Table(), a.kind.TargetColumn(), placeholders(len(a.ids))))
		for _, id := range a.ids {
			args = append(args, id)
		}
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func reviewsOrder(orderBy string) string {
	switch orderBy {
	case "rating":
		return "r.rating DESC, p.post_date DESC, r.id DESC"
	case "pinned":
		return "r.is_pinned DESC, p.post_date DESC, r.id DESC"
	}
	return "p.post_date DESC, r.id DESC"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
