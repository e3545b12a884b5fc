package ops

import (
	"context"
	"database/sql"
	"net/mail"
	"strings"

	"github.com/locial/locial/internal/db"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/post"
)

// RegisterUserInput contains parameters for the RegisterUser operation.
type RegisterUserInput struct {
	Email     string
	AvatarURL string // optional
}

// UserOutput is the public view of a user.
type UserOutput struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	CreatedAt int64  `json:"created_at"`
}

func newUserOutput(u *post.User) *UserOutput {
	return &UserOutput{
		ID:        u.ID,
		Email:     u.Email,
		AvatarURL: u.Avatar(),
		CreatedAt: u.CreatedAt,
	}
}

// RegisterUser creates the user for an email, or refreshes its avatar when
// the email is already known. Calling it twice is harmless.
func RegisterUser(ctx context.Context, database *sql.DB, input RegisterUserInput) (*UserOutput, error) {
	email := strings.TrimSpace(input.Email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, errors.NewInvalidRequest("a valid email is required")
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	u := &post.User{
		ID:        id,
		Email:     email,
		AvatarURL: strings.TrimSpace(input.AvatarURL),
	}
	if err := db.UpsertUser(ctx, database, u); err != nil {
		return nil, err
	}

	return newUserOutput(u), nil
}

// CurrentUser resolves an authenticated email to its user. An empty email
// or an unknown user is AUTH_REQUIRED.
func CurrentUser(ctx context.Context, database *sql.DB, email string) (*post.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.NewAuthRequired("login required")
	}

	u, err := db.GetUserByEmail(ctx, database, email)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.NewAuthRequired("user not found")
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Me returns the public view of the authenticated user.
func Me(ctx context.Context, database *sql.DB, email string) (*UserOutput, error) {
	u, err := CurrentUser(ctx, database, email)
	if err != nil {
		return nil, err
	}
	return newUserOutput(u), nil
}
