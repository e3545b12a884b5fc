package ops

import (
	"context"
	"database/sql"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/post"
)

// DBSource serves discovery catalog fetches straight from the database.
type DBSource struct {
	DB     *sql.DB
	Config *config.Config
}

// NewDBSource creates a DBSource.
func NewDBSource(database *sql.DB, cfg *config.Config) *DBSource {
	return &DBSource{DB: database, Config: cfg}
}

// FetchNearby returns the posts around c in storage order.
func (s *DBSource) FetchNearby(ctx context.Context, c geo.Coordinate) ([]post.Post, error) {
	return s.fetch(ctx, c, "")
}

// FetchNearbyByCategory returns the posts of category in the widened box around c.
func (s *DBSource) FetchNearbyByCategory(ctx context.Context, c geo.Coordinate, category string) ([]post.Post, error) {
	return s.fetch(ctx, c, category)
}

// fetch is uncapped: the evaluator must see every post in the box.
func (s *DBSource) fetch(ctx context.Context, c geo.Coordinate, category string) ([]post.Post, error) {
	out, err := nearby(ctx, s.DB, s.Config, NearbyInput{
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
		Category:  category,
	}, 0)
	if err != nil {
		return nil, errors.NewFetch(err)
	}
	return out.Posts, nil
}
