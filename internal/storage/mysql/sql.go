package mysql

// -----------------------------------------------------------------------------
// RATINGS
// -----------------------------------------------------------------------------

// Projection columns shared by the single-review and list queries. Assignment
// ids come back comma separated; the Review entity dedupes them.
const projectionSelect = `
SELECT
  r.id,
  r.review_id,
  r.rating,
  r.type,
  r.is_approved,
  r.is_pinned,
  r.name,
  r.email,
  r.avatar,
  r.ip_address,
  r.url,
  r.response,
  p.post_author,
  p.post_title,
  p.post_content,
  p.post_date,
  p.post_status,
  (SELECT GROUP_CONCAT(a.post_id) FROM assigned_posts a WHERE a.rating_id = r.id) AS post_ids,
  (SELECT GROUP_CONCAT(a.term_id) FROM assigned_terms a WHERE a.rating_id = r.id) AS term_ids,
  (SELECT GROUP_CONCAT(a.user_id) FROM assigned_users a WHERE a.rating_id = r.id) AS user_ids
FROM ratings r
INNER JOIN posts p ON p.id = r.review_id
`

const countReviewsSelect = `
SELECT COUNT(*)
FROM ratings r
INNER JOIN posts p ON p.id = r.review_id
`

// -----------------------------------------------------------------------------
// CONTENT STORE
// -----------------------------------------------------------------------------

const insertItemSQL = `
INSERT INTO posts
  (post_type, post_status, post_name, post_title, post_content, post_author, post_parent, post_date)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?)
`

const getItemSQL = `
SELECT id, post_type, post_status, post_name, post_title, post_content, post_author, post_parent, post_date
FROM posts
WHERE id = ?
`

const itemMetaSQL = `
SELECT meta_key, meta_value
FROM post_meta
WHERE post_id = ?
ORDER BY meta_id
`

const revisionIDsSQL = `
SELECT id
FROM posts
WHERE post_parent = ? AND post_type = 'revision'
ORDER BY id
`

const clearItemTermsSQL = `
DELETE FROM term_relationships
WHERE object_id = ?
  AND term_id IN (SELECT term_id FROM terms WHERE taxonomy = ?)
`

// -----------------------------------------------------------------------------
// LEGACY IMPORT
// -----------------------------------------------------------------------------

const legacyRowsSQL = `
SELECT meta_id, post_id, meta_value
FROM post_meta
WHERE meta_key = ?
ORDER BY meta_id
LIMIT ? OFFSET ?
`

// MigrationOption is the options row holding the last migration run.
const MigrationOption = "rating_store_last_migration"
