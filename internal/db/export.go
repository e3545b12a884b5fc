package db

import (
	"context"
	"database/sql"

	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/post"
)

// StreamPostsForExport returns every post joined with its author's email,
// oldest first. Callers must close the rows.
func StreamPostsForExport(ctx context.Context, db *sql.DB) (*sql.Rows, error) {
	query := `
		SELECT p.id, p.author_id, p.category_raw, p.content, p.latitude, p.longitude, p.created_at, u.email
		FROM posts p
		JOIN users u ON u.id = p.author_id
		ORDER BY p.created_at ASC, p.id ASC
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanExportRow scans a row from StreamPostsForExport.
func ScanExportRow(rows *sql.Rows) (*post.Post, string, error) {
	var p post.Post
	var email string
	err := rows.Scan(&p.ID, &p.AuthorID, &p.Category, &p.Content, &p.Latitude, &p.Longitude, &p.CreatedAt, &email)
	if err != nil {
		return nil, "", err
	}
	return &p, email, nil
}

// PostExists reports whether a post with id is stored.
func PostExists(ctx context.Context, db Querier, id string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM posts WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}
