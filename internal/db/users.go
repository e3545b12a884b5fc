package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/post"
)

const userColumns = `id, email, avatar_url, created_at`

// UpsertUser inserts u, or refreshes the avatar of the existing user with the
// same email (case-insensitive). u is updated with the stored ID and CreatedAt.
// An empty AvatarURL keeps the stored one.
func UpsertUser(ctx context.Context, db Querier, u *post.User) error {
	now := time.Now().Unix()
	if u.CreatedAt == 0 {
		u.CreatedAt = now
	}

	query := `
		INSERT INTO users (id, email, email_norm, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email_norm) DO UPDATE SET
			avatar_url = COALESCE(excluded.avatar_url, users.avatar_url),
			updated_at = excluded.updated_at
		RETURNING id, avatar_url, created_at
	`

	var avatar sql.NullString
	err := db.QueryRowContext(ctx, query,
		u.ID, u.Email, post.Normalize(u.Email), toNullString(u.AvatarURL), u.CreatedAt, now,
	).Scan(&u.ID, &avatar, &u.CreatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	u.AvatarURL = fromNullString(avatar)

	return nil
}

// GetUserByEmail looks a user up by email (case-insensitive).
func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*post.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email_norm = ?`

	u, err := scanUser(db.QueryRowContext(ctx, query, post.Normalize(email)))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("user", email)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return u, nil
}

// GetUserByID retrieves a user by its ULID.
func GetUserByID(ctx context.Context, db *sql.DB, id string) (*post.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	u, err := scanUser(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("user", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return u, nil
}

func scanUser(row rowScanner) (*post.User, error) {
	var (
		u      post.User
		avatar sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &avatar, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.AvatarURL = fromNullString(avatar)
	return &u, nil
}
