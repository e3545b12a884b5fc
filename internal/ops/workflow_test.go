package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/locial/locial/internal/errors"
)

// TestFullWorkflow exercises the complete post lifecycle:
// register → create → nearby → evaluate → feed → delete → evaluate (gone)
func TestFullWorkflow(t *testing.T) {
	database, cfg := setupTest(t)
	ctx := context.Background()

	// 1. Register
	user, err := RegisterUser(ctx, database, RegisterUserInput{Email: "ana@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)

	// 2. Create
	created, err := CreatePost(ctx, database, cfg, CreatePostInput{
		Email:     "ana@example.com",
		Content:   "Try the tacos",
		Category:  "Food",
		Latitude:  10.00005,
		Longitude: 20,
	})
	require.NoError(t, err)
	id := created.Post.ID

	// 3. Nearby
	nearby, err := Nearby(ctx, database, cfg, NearbyInput{Latitude: 10, Longitude: 20})
	require.NoError(t, err)
	require.Len(t, nearby.Posts, 1)
	require.Equal(t, id, nearby.Posts[0].ID)
	require.Equal(t, []string{"Food"}, nearby.Categories)

	// 4. Evaluate
	eval, err := Evaluate(ctx, database, cfg, EvaluateInput{Latitude: 10, Longitude: 20, Category: "Food"})
	require.NoError(t, err)
	require.NotNil(t, eval.Next)
	require.Equal(t, id, eval.Next.Post.ID)

	// 5. Feed greets with the post
	feed, err := Feed(ctx, database, cfg, FeedInput{Latitude: 10, Longitude: 20})
	require.NoError(t, err)
	require.Equal(t, "Try the tacos", feed.Welcome)

	// 6. Delete
	deleted, err := DeletePost(ctx, database, DeletePostInput{Email: "ana@example.com", ID: id})
	require.NoError(t, err)
	require.True(t, deleted.Deleted)

	// 7. Nothing left to narrate, deleting again is NOT_FOUND
	eval, err = Evaluate(ctx, database, cfg, EvaluateInput{Latitude: 10, Longitude: 20, Category: "Food"})
	require.NoError(t, err)
	require.Nil(t, eval.Next)
	require.Empty(t, eval.Candidates)

	_, err = DeletePost(ctx, database, DeletePostInput{Email: "ana@example.com", ID: id})
	require.True(t, errors.Is(err, errors.ErrNotFound))
}
