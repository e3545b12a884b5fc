package ops

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
)

// Feed limits
const (
	MaxFeedLimit    = 200
	MaxNearbyLimit  = 500
	DefaultMaxChars = 280
)

// SearchBox returns the bounding box around c for the configured radius mode,
// widened by factor (1 for plain lookups, CategoryRadiusFactor for category ones).
func SearchBox(cfg *config.Config, c geo.Coordinate, factor float64) geo.BoundingBox {
	if factor < 1 {
		factor = 1
	}
	if cfg.Catalog.RadiusMode == config.RadiusModeDegrees {
		return geo.BoxDegrees(c, cfg.Catalog.RadiusDegrees*factor)
	}
	return geo.BoxMeters(c, cfg.Catalog.RadiusMeters*factor)
}

// validateCoordinate turns an out-of-range coordinate into INVALID_REQUEST.
func validateCoordinate(lat, lon float64) (geo.Coordinate, error) {
	c := geo.Coordinate{Latitude: lat, Longitude: lon}
	if err := c.Validate(); err != nil {
		return c, errors.NewInvalidRequest(err.Error())
	}
	return c, nil
}

// clampLimit applies a default and a ceiling to a caller-supplied limit.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
