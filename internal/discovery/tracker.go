package discovery

import (
	"context"
	"time"

	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
)

// Tracker keeps the walker's freshest coordinate. It is owned by one
// session loop and is not safe for concurrent use.
type Tracker struct {
	source  LocationSource
	current *geo.Coordinate
	updated time.Time
	lastErr error
}

// NewTracker creates a tracker over source.
func NewTracker(source LocationSource) *Tracker {
	return &Tracker{source: source}
}

// Start begins observing the source.
func (t *Tracker) Start(ctx context.Context) (<-chan LocationUpdate, error) {
	return t.source.Start(ctx)
}

// Stop releases the source subscription.
func (t *Tracker) Stop() {
	t.source.Stop()
}

// Sample takes a one-off fix when the source supports it.
func (t *Tracker) Sample(ctx context.Context) (geo.Coordinate, error) {
	s, ok := t.source.(Sampler)
	if !ok {
		return geo.Coordinate{}, errors.NewUnavailable("location source does not support sampling")
	}
	return s.Sample(ctx)
}

// Apply records an update. It reports whether the current coordinate changed.
// On error the previous coordinate (if any) is kept.
func (t *Tracker) Apply(u LocationUpdate) bool {
	if u.Err != nil {
		t.lastErr = u.Err
		return false
	}
	if err := u.Coordinate.Validate(); err != nil {
		t.lastErr = errors.NewUnavailable("invalid fix: " + err.Error())
		return false
	}

	c := u.Coordinate
	t.current = &c
	t.updated = u.At
	t.lastErr = nil
	return true
}

// Current returns the freshest coordinate, if one has been observed.
func (t *Tracker) Current() (geo.Coordinate, bool) {
	if t.current == nil {
		return geo.Coordinate{}, false
	}
	return *t.current, true
}

// Err returns the error of the latest update, nil after a good fix.
func (t *Tracker) Err() error {
	return t.lastErr
}
