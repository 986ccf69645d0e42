package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"rating_store/internal/domain"
)

// LegacyRows pages through the meta rows tagged with marker, oldest first.
func (r *Repo) LegacyRows(ctx context.Context, marker string, offset, limit int) ([]domain.LegacyRow, error) {
	rows, err := r.q.QueryContext(ctx, legacyRowsSQL, marker, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LegacyRow
	for rows.Next() {
		var lr domain.LegacyRow
		if err := rows.Scan(&lr.MetaID, &lr.PostID, &lr.MetaValue); err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

// AddLegacyRow tags a post with a marker payload. Used by exporters and tests.
func (r *Repo) AddLegacyRow(ctx context.Context, postID int64, marker, payload string) error {
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)", postID, marker, payload)
	return err
}

func (r *Repo) DeleteMarker(ctx context.Context, marker string) (int64, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM post_meta WHERE meta_key = ?", marker)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reset forgets the last migration run so the next boot migrates again.
func (r *Repo) Reset(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM options WHERE option_name = ?", MigrationOption)
	return err
}

func (r *Repo) MarkMigrated(ctx context.Context) error {
	if err := r.Reset(ctx); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, "INSERT INTO options (option_name, option_value) VALUES (?, ?)",
		MigrationOption, time.Now().UTC().Format(time.RFC3339))
	return err
}

// LastMigration returns the recorded run time, "" when a migration is due.
func (r *Repo) LastMigration(ctx context.Context) (string, error) {
	var v string
	err := r.q.QueryRowContext(ctx, "SELECT option_value FROM options WHERE option_name = ?", MigrationOption).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}
