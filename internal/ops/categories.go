package ops

import (
	"context"
	"database/sql"

	"github.com/locial/locial/internal/config"
)

// CategoriesInput contains parameters for the Categories operation.
type CategoriesInput struct {
	Latitude  float64
	Longitude float64
}

// CategoriesOutput contains the result of the Categories operation.
type CategoriesOutput struct {
	Categories []string `json:"categories"`
}

// Categories lists the distinct categories of the posts around a coordinate,
// in first-seen order.
func Categories(ctx context.Context, database *sql.DB, cfg *config.Config, input CategoriesInput) (*CategoriesOutput, error) {
	out, err := nearby(ctx, database, cfg, NearbyInput{
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
	}, 0)
	if err != nil {
		return nil, err
	}

	categories := out.Categories
	if categories == nil {
		categories = []string{}
	}
	return &CategoriesOutput{Categories: categories}, nil
}
