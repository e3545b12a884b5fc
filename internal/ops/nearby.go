package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/db"
	"github.com/locial/locial/internal/post"
)

// NearbyInput contains parameters for the Nearby operation.
type NearbyInput struct {
	Latitude  float64
	Longitude float64
	Category  string // optional; widens the box by CategoryRadiusFactor
	Limit     int    // 0 = MaxNearbyLimit
}

// NearbyOutput contains the result of the Nearby operation.
type NearbyOutput struct {
	Posts      []post.Post `json:"posts"`
	Categories []string    `json:"categories"`
	Count      int         `json:"count"`
}

// Nearby returns the posts stored around a coordinate in storage order, at
// most MaxNearbyLimit of them.
func Nearby(ctx context.Context, database *sql.DB, cfg *config.Config, input NearbyInput) (*NearbyOutput, error) {
	return nearby(ctx, database, cfg, input, clampLimit(input.Limit, MaxNearbyLimit, MaxNearbyLimit))
}

// nearby runs the box query with limit applied as is; 0 returns every post.
func nearby(ctx context.Context, database *sql.DB, cfg *config.Config, input NearbyInput, limit int) (*NearbyOutput, error) {
	c, err := validateCoordinate(input.Latitude, input.Longitude)
	if err != nil {
		return nil, err
	}

	category := strings.TrimSpace(input.Category)
	factor := 1.0
	if category != "" {
		factor = cfg.Catalog.CategoryRadiusFactor
	}

	posts, err := db.NearbyPosts(ctx, database, db.NearbyFilter{
		Box:      SearchBox(cfg, c, factor),
		Category: category,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	return &NearbyOutput{
		Posts:      posts,
		Categories: post.DistinctCategories(posts),
		Count:      len(posts),
	}, nil
}
