package discovery

import "github.com/locial/locial/internal/post"

// EventKind names what changed in a session.
type EventKind string

const (
	EventLocation          EventKind = "location"
	EventCatalog           EventKind = "catalog"
	EventCategory          EventKind = "category"
	EventState             EventKind = "state"
	EventStatus            EventKind = "status"
	EventNarrationStarted  EventKind = "narration_started"
	EventNarrationFinished EventKind = "narration_finished"
)

// Event is published after every change, carrying the full session state.
type Event struct {
	Kind     EventKind `json:"kind"`
	PostID   string    `json:"post_id,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	SessionID string `json:"session_id"`
	State

	// Categories are the distinct categories of the cached posts.
	Categories []string `json:"categories"`

	Posts          []post.Post `json:"posts"`
	CatalogValid   bool        `json:"catalog_valid"`
	CatalogPending bool        `json:"catalog_pending"`

	Spoken         []string    `json:"spoken"`
	Speaking       bool        `json:"speaking"`
	SpeakingPostID string      `json:"speaking_post_id,omitempty"`
	Candidates     []Candidate `json:"candidates"`

	// Status is a human-readable message, empty when all is well.
	Status string `json:"status,omitempty"`
}

// Post returns the cached post with id.
func (s Snapshot) Post(id string) (post.Post, bool) {
	for _, p := range s.Posts {
		if p.ID == id {
			return p, true
		}
	}
	return post.Post{}, false
}
