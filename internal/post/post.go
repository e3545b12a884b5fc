package post

import "github.com/locial/locial/internal/geo"

// DefaultCategory is assigned to posts created without a category.
const DefaultCategory = "general"

// MaxContentChars is the maximum post length in runes.
const MaxContentChars = 280

// DefaultAvatarURL is shown for users that never set an avatar.
const DefaultAvatarURL = "/static/avatar.svg"

// Post is a geotagged message. Posts are immutable once stored.
type Post struct {
	// ID is a ULID that uniquely identifies this post
	ID string `json:"id"`

	// AuthorID references the user that created the post
	AuthorID string `json:"author_id"`

	// Category is the label as provided by the author (trimmed)
	Category string `json:"category"`

	// Content is the message text; it is also what gets narrated
	Content string `json:"content"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// CreatedAt is the Unix timestamp when the post was created
	CreatedAt int64 `json:"created_at"`
}

// Coordinate returns the post's location.
func (p Post) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// User is an author identity.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Avatar returns the user's avatar, or DefaultAvatarURL when unset.
func (u User) Avatar() string {
	if u.AvatarURL == "" {
		return DefaultAvatarURL
	}
	return u.AvatarURL
}

// DistinctCategories returns the categories present in posts in first-seen
// order. Labels that only differ in case or spacing count once.
func DistinctCategories(posts []Post) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range posts {
		key := Normalize(p.Category)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p.Category)
	}
	return out
}
