package ops

import (
	"context"
	"database/sql"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/db"
	"github.com/locial/locial/internal/post"
)

// FeedInput contains parameters for the Feed operation.
type FeedInput struct {
	Latitude  float64
	Longitude float64
	Limit     int // default: cfg.Catalog.FeedLimit
}

// FeedOutput contains the near feed: newest posts first and the line the
// page reads out on arrival.
type FeedOutput struct {
	Welcome string      `json:"welcome"`
	Posts   []post.Post `json:"posts"`
}

// Feed returns the latest posts around a coordinate. Welcome is the newest
// post's content, or the configured welcome message when nothing is nearby.
func Feed(ctx context.Context, database *sql.DB, cfg *config.Config, input FeedInput) (*FeedOutput, error) {
	c, err := validateCoordinate(input.Latitude, input.Longitude)
	if err != nil {
		return nil, err
	}

	posts, err := db.NearbyPosts(ctx, database, db.NearbyFilter{
		Box:         SearchBox(cfg, c, 1),
		Limit:       clampLimit(input.Limit, cfg.Catalog.FeedLimit, MaxFeedLimit),
		NewestFirst: true,
	})
	if err != nil {
		return nil, err
	}

	welcome := cfg.Discovery.WelcomeMessage
	if len(posts) > 0 {
		welcome = posts[0].Content
	}

	return &FeedOutput{
		Welcome: welcome,
		Posts:   posts,
	}, nil
}
