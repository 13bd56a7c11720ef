package store

import "time"

// Joiner statuses. A joiner starts as requested and is promoted to joined by
// the host; there is no demotion or rejection path.
const (
	JoinerRequested = "requested"
	JoinerJoined    = "joined"
)

// Joiner is one non-host participant tracked in a session's membership map.
type Joiner struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	RequestedAt time.Time  `json:"requestedAt"`
	JoinedAt    *time.Time `json:"joinedAt,omitempty"`
	Color       string     `json:"color,omitempty"`
}

// Session is one collaboration row. The node and edge snapshots are opaque
// encoded blobs replaced wholesale on every save, never patched. The JSON
// tags define the wire shape of the row change feed.
type Session struct {
	ID         string            `json:"id"`
	Code       string            `json:"code"`
	Host       string            `json:"host"`
	Joiners    map[string]Joiner `json:"joiners"`
	StateNodes string            `json:"state_nodes"`
	StateEdges string            `json:"state_edges"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Board is a user's private canvas, the single-user counterpart of a
// collaboration session. Viewport is persisted here only; collaborative
// sessions never synchronize camera state.
type Board struct {
	ID            string
	OwnerID       string
	StateNodes    string
	StateEdges    string
	StateViewport string
	UpdatedAt     time.Time
}
