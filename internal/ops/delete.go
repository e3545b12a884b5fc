package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/locial/locial/internal/db"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/metrics"
)

// DeletePostInput contains parameters for the DeletePost operation.
type DeletePostInput struct {
	Email string
	ID    string
}

// DeletePostOutput contains the result of the DeletePost operation.
type DeletePostOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// DeletePost removes a post. Only its author may delete it.
func DeletePost(ctx context.Context, database *sql.DB, input DeletePostInput) (*DeletePostOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	user, err := CurrentUser(ctx, database, input.Email)
	if err != nil {
		return nil, err
	}

	p, err := db.GetPostByID(ctx, database, id)
	if err != nil {
		return nil, err
	}
	if p.AuthorID != user.ID {
		return nil, errors.NewForbidden("only the author can delete this post")
	}

	if err := db.DeletePost(ctx, database, id); err != nil {
		return nil, err
	}
	metrics.PostsDeleted.Inc()

	logging.Info().Str("post_id", id).Str("author_id", user.ID).Msg("post deleted")

	return &DeletePostOutput{
		Deleted: true,
		ID:      id,
	}, nil
}
