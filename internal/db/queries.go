package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/post"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.LocialError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

const postColumns = `id, author_id, category_raw, content, latitude, longitude, created_at`

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertPost stores a new post. The category is stored both as given and
// normalized for lookups.
func InsertPost(ctx context.Context, db Querier, p *post.Post) error {
	query := `
		INSERT INTO posts (
			id, author_id, category_raw, category_norm, content,
			latitude, longitude, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		p.ID, p.AuthorID, p.Category, post.Normalize(p.Category), p.Content,
		p.Latitude, p.Longitude, p.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetPostByID retrieves a post by its ULID.
func GetPostByID(ctx context.Context, db *sql.DB, id string) (*post.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = ?`

	p, err := scanPost(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("post", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return p, nil
}

// DeletePost removes a post permanently.
func DeletePost(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("post", id)
	}

	return nil
}

// NearbyFilter selects posts inside a bounding box.
type NearbyFilter struct {
	Box geo.BoundingBox

	// Category, when non-empty, restricts results to one category (any case/spacing).
	Category string

	// Limit caps the result count. 0 means unlimited.
	Limit int

	// NewestFirst orders by creation time descending instead of storage order.
	NewestFirst bool
}

// NearbyPosts returns the posts inside f.Box, in storage (insertion) order
// unless NewestFirst is set. Boxes that cross the antimeridian wrap.
func NearbyPosts(ctx context.Context, db *sql.DB, f NearbyFilter) ([]post.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE latitude BETWEEN ? AND ?`
	args := []any{f.Box.MinLat, f.Box.MaxLat}

	lonClause, lonArgs := longitudeClause(f.Box)
	query += " AND " + lonClause
	args = append(args, lonArgs...)

	if f.Category != "" {
		query += " AND category_norm = ?"
		args = append(args, post.Normalize(f.Category))
	}

	if f.NewestFirst {
		query += " ORDER BY created_at DESC, id DESC"
	} else {
		query += " ORDER BY rowid ASC"
	}

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	posts := make([]post.Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return posts, nil
}

// longitudeClause builds the longitude predicate, splitting boxes that
// extend past ±180 into two ranges.
func longitudeClause(box geo.BoundingBox) (string, []any) {
	switch {
	case box.MinLon <= -180 && box.MaxLon >= 180:
		return "1 = 1", nil
	case box.MinLon < -180:
		return "(longitude >= ? OR longitude <= ?)", []any{box.MinLon + 360, box.MaxLon}
	case box.MaxLon > 180:
		return "(longitude >= ? OR longitude <= ?)", []any{box.MinLon, box.MaxLon - 360}
	default:
		return "longitude BETWEEN ? AND ?", []any{box.MinLon, box.MaxLon}
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPost scans a single row into a Post.
func scanPost(row rowScanner) (*post.Post, error) {
	var p post.Post
	err := row.Scan(
		&p.ID, &p.AuthorID, &p.Category, &p.Content,
		&p.Latitude, &p.Longitude, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// toNullString converts an empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// fromNullString converts NULL to an empty string.
func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
