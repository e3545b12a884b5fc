package discovery

import (
	"sort"

	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/post"
)

// Candidate is a post eligible for narration and its distance from the walker.
type Candidate struct {
	Post           post.Post `json:"post"`
	DistanceMeters float64   `json:"distance_meters"`
}

// Evaluate returns the posts of activeCategory that have not been spoken and
// lie within thresholdMeters of location, nearest first. Equal distances keep
// catalog order. Without a location or an active category there are no
// candidates. Categories match as post.SameCategory does: trimmed, folded to
// lower case and with inner whitespace collapsed, the same key the database
// filters on.
func Evaluate(location *geo.Coordinate, catalog []post.Post, spoken *SpokenSet, activeCategory string, thresholdMeters float64) []Candidate {
	if location == nil || activeCategory == "" {
		return nil
	}

	var out []Candidate
	for _, p := range catalog {
		if !post.SameCategory(p.Category, activeCategory) || spoken.Has(p.ID) {
			continue
		}
		d := geo.Haversine(*location, p.Coordinate())
		if d <= thresholdMeters {
			out = append(out, Candidate{Post: p, DistanceMeters: d})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out
}

// SpokenSet holds the ids narrated in the current category session, in the
// order they were spoken. The zero value is not usable; use NewSpokenSet.
// A nil *SpokenSet is treated as empty by Has and Len.
type SpokenSet struct {
	ids   map[string]struct{}
	order []string
}

// NewSpokenSet creates an empty set.
func NewSpokenSet() *SpokenSet {
	return &SpokenSet{ids: make(map[string]struct{})}
}

// Add inserts id and reports whether it was new.
func (s *SpokenSet) Add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *SpokenSet) Has(id string) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

func (s *SpokenSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Clear empties the set.
func (s *SpokenSet) Clear() {
	clear(s.ids)
	s.order = nil
}

// IDs returns the spoken ids in narration order.
func (s *SpokenSet) IDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}
