package discovery

import (
	"context"
	"time"

	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/post"
)

// PostSource fetches posts around a coordinate.
type PostSource interface {
	FetchNearby(ctx context.Context, c geo.Coordinate) ([]post.Post, error)
	FetchNearbyByCategory(ctx context.Context, c geo.Coordinate, category string) ([]post.Post, error)
}

// FetchRequest identifies one catalog fetch. Seq increases with every request.
type FetchRequest struct {
	Seq      uint64
	Center   geo.Coordinate
	Category string
}

// Kind labels the request for metrics and logs.
func (r FetchRequest) Kind() string {
	if r.Category == "" {
		return "nearby"
	}
	return "category"
}

// FetchResult is the outcome of a FetchRequest.
type FetchResult struct {
	Request  FetchRequest
	Posts    []post.Post
	Err      error
	Duration time.Duration
}

// Fetch runs req against src. Errors that are not already structured become
// FETCH_ERROR.
func Fetch(ctx context.Context, src PostSource, req FetchRequest) FetchResult {
	start := time.Now()

	var (
		posts []post.Post
		err   error
	)
	if req.Category == "" {
		posts, err = src.FetchNearby(ctx, req.Center)
	} else {
		posts, err = src.FetchNearbyByCategory(ctx, req.Center, req.Category)
	}
	if err != nil && !errors.Is(err, errors.ErrFetch) {
		err = errors.NewFetch(err)
	}

	return FetchResult{
		Request:  req,
		Posts:    posts,
		Err:      err,
		Duration: time.Since(start),
	}
}

// Catalog caches the posts fetched for the walker's vicinity. Only the
// result of the latest request is ever applied. Not safe for concurrent use.
type Catalog struct {
	posts      []post.Post
	categories []string
	valid      bool
	seq        uint64
	pending    bool
	center     *geo.Coordinate
}

// Request starts a new fetch generation and returns its request.
func (c *Catalog) Request(center geo.Coordinate, category string) FetchRequest {
	c.seq++
	c.pending = true
	return FetchRequest{Seq: c.seq, Center: center, Category: category}
}

// Apply stores r if it answers the latest request and reports whether it did.
// A failed fetch leaves the catalog empty and invalid.
func (c *Catalog) Apply(r FetchResult) bool {
	if r.Request.Seq != c.seq {
		return false
	}
	c.pending = false

	if r.Err != nil {
		c.Invalidate()
		return true
	}

	c.posts = r.Posts
	c.categories = post.DistinctCategories(r.Posts)
	c.valid = true
	center := r.Request.Center
	c.center = &center
	return true
}

// Invalidate drops the cached posts.
func (c *Catalog) Invalidate() {
	c.posts = nil
	c.categories = nil
	c.valid = false
	c.center = nil
}

func (c *Catalog) Posts() []post.Post   { return c.posts }
func (c *Catalog) Categories() []string { return c.categories }
func (c *Catalog) Valid() bool          { return c.valid }
func (c *Catalog) Pending() bool        { return c.pending }
func (c *Catalog) Seq() uint64          { return c.seq }

// Center returns the coordinate the cached posts were fetched for.
func (c *Catalog) Center() (geo.Coordinate, bool) {
	if c.center == nil {
		return geo.Coordinate{}, false
	}
	return *c.center, true
}
