package mysql

import (
	"context"
	"fmt"
	"strings"

	"rating_store/internal/domain"
)

// bulkChunk bounds the number of rows per INSERT statement.
const bulkChunk = 500

// whitelist returns the columns of cols that the table accepts, in the order
// given. A nil cols means the whole table whitelist.
func whitelist(table string, cols []string) ([]string, error) {
	allowed, ok := domain.TableColumns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTable, table)
	}
	if cols == nil {
		cols = allowed
	}
	set := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		set[c] = struct{}{}
	}
	out := make([]string, 0, len(cols))
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, ok := set[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// present keeps the whitelisted columns that appear in m.
func present(cols []string, m map[string]any) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if _, ok := m[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Insert writes one row, ignoring it when a unique key already holds it.
// It returns the number of inserted rows.
func (r *Repo) Insert(ctx context.Context, table string, row map[string]any) (int64, error) {
	cols, err := whitelist(table, nil)
	if err != nil {
		return 0, err
	}
	cols = present(cols, row)
	if len(cols) == 0 {
		return 0, fmt.Errorf("%w for %s", domain.ErrNoColumns, table)
	}
	return r.InsertBulk(ctx, table, []map[string]any{row}, cols)
}

// InsertBulk writes rows restricted to columns. Fields outside the column
// list or the table whitelist are dropped; missing fields are NULL.
func (r *Repo) InsertBulk(ctx context.Context, table string, rows []map[string]any, columns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols, err := whitelist(table, columns)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("%w for %s", domain.ErrNoColumns, table)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	prefix := fmt.Sprintf("%s %s (%s) VALUES ", r.dialect.insertIgnore(), table, strings.Join(cols, ", "))

	var total int64
	for start := 0; start < len(rows); start += bulkChunk {
		end := min(start+bulkChunk, len(rows))
		chunk := rows[start:end]
		values := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*len(cols))
		for _, row := range chunk {
			values = append(values, tuple)
			for _, c := range cols {
				args = append(args, row[c])
			}
		}
		res, err := r.q.ExecContext(ctx, prefix+strings.Join(values, ","), args...)
		if err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Update sets data on the rows matching where and returns rows affected.
func (r *Repo) Update(ctx context.Context, table string, data, where map[string]any) (int64, error) {
	cols, err := whitelist(table, nil)
	if err != nil {
		return 0, err
	}
	set := present(cols, data)
	if len(set) == 0 {
		return 0, nil
	}
	cond, condArgs, err := whereClause(cols, where)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	parts := make([]string, 0, len(set))
	args := make([]any, 0, len(set)+len(condArgs))
	for _, c := range set {
		parts = append(parts, c+" = ?")
		args = append(args, data[c])
	}
	args = append(args, condArgs...)
	res, err := r.q.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(parts, ", "), cond), args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// Delete removes the rows matching where and returns rows affected.
func (r *Repo) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	cols, err := whitelist(table, nil)
	if err != nil {
		return 0, err
	}
	cond, args, err := whereClause(cols, where)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	res, err := r.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, cond), args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return res.RowsAffected()
}

// whereClause ANDs equality conditions. Every key must be whitelisted and at
// least one is required, so a typo can never widen a write to the whole table.
func whereClause(cols []string, where map[string]any) (string, []any, error) {
	keys := present(cols, where)
	if len(keys) == 0 || len(keys) != len(where) {
		return "", nil, fmt.Errorf("%w in where clause", domain.ErrNoColumns)
	}
	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" = ?")
		args = append(args, where[k])
	}
	return strings.Join(parts, " AND "), args, nil
}
