package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/discovery"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/post"
)

// EvaluateInput contains parameters for the Evaluate operation.
type EvaluateInput struct {
	Latitude        float64
	Longitude       float64
	Category        string   // required
	ThresholdMeters float64  // default: cfg.Discovery.ThresholdMeters
	Spoken          []string // ids already narrated, excluded from candidates
}

// EvaluateOutput contains the result of the Evaluate operation.
type EvaluateOutput struct {
	Location        geo.Coordinate        `json:"location"`
	Category        string                `json:"category"`
	ThresholdMeters float64               `json:"threshold_meters"`
	Candidates      []discovery.Candidate `json:"candidates"`
	Next            *discovery.Candidate  `json:"next,omitempty"`

	// Posts is the category catalog the candidates were drawn from.
	Posts []post.Post `json:"posts"`
}

// Evaluate runs one stateless proximity evaluation: it loads the category
// catalog around the coordinate and returns the unspoken posts within the
// threshold, nearest first. Next is the post a session would narrate.
func Evaluate(ctx context.Context, database *sql.DB, cfg *config.Config, input EvaluateInput) (*EvaluateOutput, error) {
	c, err := validateCoordinate(input.Latitude, input.Longitude)
	if err != nil {
		return nil, err
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return nil, errors.NewInvalidRequest("category is required")
	}
	threshold := input.ThresholdMeters
	if threshold == 0 {
		threshold = cfg.Discovery.ThresholdMeters
	}
	if threshold < 0 {
		return nil, errors.NewInvalidRequest("threshold_meters must be positive")
	}

	posts, err := NewDBSource(database, cfg).FetchNearbyByCategory(ctx, c, category)
	if err != nil {
		return nil, err
	}

	spoken := discovery.NewSpokenSet()
	for _, id := range input.Spoken {
		if id = strings.TrimSpace(id); id != "" {
			spoken.Add(id)
		}
	}

	candidates := discovery.Evaluate(&c, posts, spoken, category, threshold)
	if candidates == nil {
		candidates = []discovery.Candidate{}
	}
	if posts == nil {
		posts = []post.Post{}
	}

	out := &EvaluateOutput{
		Location:        c,
		Category:        category,
		ThresholdMeters: threshold,
		Candidates:      candidates,
		Posts:           posts,
	}
	if len(candidates) > 0 {
		out.Next = &candidates[0]
	}
	return out, nil
}
