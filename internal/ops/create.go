package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/db"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/metrics"
	"github.com/locial/locial/internal/post"
)

// CreatePostInput contains parameters for the CreatePost operation.
type CreatePostInput struct {
	Email     string // authenticated identity; empty means anonymous
	Content   string
	Category  string // default: "general"
	Latitude  float64
	Longitude float64
}

// CreatePostOutput contains the result of the CreatePost operation.
type CreatePostOutput struct {
	Post post.Post `json:"post"`
}

// CreatePost stores a new post authored by the user behind input.Email.
func CreatePost(ctx context.Context, database *sql.DB, cfg *config.Config, input CreatePostInput) (*CreatePostOutput, error) {
	author, err := CurrentUser(ctx, database, input.Email)
	if err != nil {
		return nil, err
	}

	check := post.Check(post.CheckInput{Content: input.Content, MaxChars: DefaultMaxChars})
	if check.Empty {
		return nil, errors.NewInvalidRequest("content is required")
	}
	if check.TooLarge {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("content is %d characters, max %d", check.ActualChars, check.MaxChars))
	}

	c, err := validateCoordinate(input.Latitude, input.Longitude)
	if err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	p := &post.Post{
		ID:        id,
		AuthorID:  author.ID,
		Category:  post.CleanCategory(input.Category),
		Content:   strings.TrimSpace(input.Content),
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
		CreatedAt: time.Now().Unix(),
	}

	if err := db.InsertPost(ctx, database, p); err != nil {
		return nil, errors.NewPersist(err)
	}
	metrics.PostsCreated.Inc()

	logging.Info().
		Str("post_id", p.ID).
		Str("author_id", p.AuthorID).
		Str("category", p.Category).
		Msg("post created")

	return &CreatePostOutput{Post: *p}, nil
}
