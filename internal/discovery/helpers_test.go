package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/post"
)

// home is the walker position used by the scenarios.
var home = geo.Coordinate{Latitude: 10.0000, Longitude: 20.0000}

// scenarioPosts are a taco stand 5.5 m north of home and a post 111 m away.
func scenarioPosts() []post.Post {
	return []post.Post{
		{ID: "a", Category: "Food", Latitude: 10.00005, Longitude: 20.0000, Content: "Try the tacos"},
		{ID: "b", Category: "Food", Latitude: 10.001, Longitude: 20.0000, Content: "Far away"},
	}
}

// fakePosts is a PostSource over a fixed list. Category fetches filter it.
// When gate is set every fetch waits for a value on it first.
type fakePosts struct {
	mu    sync.Mutex
	posts []post.Post
	err   error
	calls []string
	gate  chan struct{}
}

func (f *fakePosts) FetchNearby(ctx context.Context, c geo.Coordinate) ([]post.Post, error) {
	return f.fetch(ctx, "")
}

func (f *fakePosts) FetchNearbyByCategory(ctx context.Context, c geo.Coordinate, category string) ([]post.Post, error) {
	return f.fetch(ctx, category)
}

func (f *fakePosts) fetch(ctx context.Context, category string) ([]post.Post, error) {
	f.mu.Lock()
	f.calls = append(f.calls, category)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []post.Post
	for _, p := range f.posts {
		if category == "" || post.SameCategory(p.Category, category) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePosts) set(posts []post.Post, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = posts
	f.err = err
}

func (f *fakePosts) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingSpeaker logs "start:<text>" and "stop:<text>" and plays until
// cancelled or until release gets a value.
type recordingSpeaker struct {
	mu      sync.Mutex
	log     []string
	started chan string
	release chan struct{}
	err     error
}

func newRecordingSpeaker() *recordingSpeaker {
	return &recordingSpeaker{
		started: make(chan string, 64),
		release: make(chan struct{}),
	}
}

func (r *recordingSpeaker) Speak(ctx context.Context, text string) error {
	r.record("start:" + text)
	r.started <- text

	select {
	case <-ctx.Done():
		r.record("stop:" + text)
		return ctx.Err()
	case <-r.release:
		r.record("end:" + text)
		return r.err
	}
}

func (r *recordingSpeaker) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func (r *recordingSpeaker) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// waitStarted waits for the speaker to start text.
func (r *recordingSpeaker) waitStarted(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.started:
		if got != want {
			t.Fatalf("speaker started %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("speaker never started %q", want)
	}
}

// waitFor reads session events until cond holds for a snapshot.
func waitFor(t *testing.T, s *Session, what string, cond func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("session closed while waiting for %s", what)
			}
			if cond(ev) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func catalogLoaded(ev Event) bool {
	return ev.Kind == EventCatalog && ev.Snapshot.CatalogValid
}

func postsAround(center geo.Coordinate, category string, distances ...float64) []post.Post {
	out := make([]post.Post, 0, len(distances))
	for i, d := range distances {
		c := geo.Displace(center, 0, d)
		out = append(out, post.Post{
			ID:        fmt.Sprintf("p%d", i),
			Category:  category,
			Content:   fmt.Sprintf("post %d", i),
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
		})
	}
	return out
}
