package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"geiger/api/internal/auth"
	"geiger/api/internal/board"
	"geiger/api/internal/realtime"
	"geiger/api/internal/store"
)

// Store is the slice of the session store the engine writes through.
type Store interface {
	JoinerStore
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	UpdateSessionState(ctx context.Context, sessionID, stateNodes, stateEdges string) error
}

// ChangeKind classifies one item in a mutation batch. Selection toggles are
// the only kind that never dirties the graph.
type ChangeKind string

const (
	ChangeSelect     ChangeKind = "select"
	ChangePosition   ChangeKind = "position"
	ChangeDimensions ChangeKind = "dimensions"
	ChangeData       ChangeKind = "data"
	ChangeAdd        ChangeKind = "add"
	ChangeRemove     ChangeKind = "remove"
)

// NodeChange is one inbound node mutation from the canvas client.
type NodeChange struct {
	Kind     ChangeKind      `json:"kind"`
	NodeID   string          `json:"nodeId,omitempty"`
	Selected bool            `json:"selected,omitempty"`
	Position *board.Position `json:"position,omitempty"`
	Width    float64         `json:"width,omitempty"`
	Height   float64         `json:"height,omitempty"`
	Data     *board.NodeData `json:"data,omitempty"`
	Node     *board.Node     `json:"node,omitempty"`
}

// EdgeChange is one inbound edge mutation.
type EdgeChange struct {
	Kind     ChangeKind  `json:"kind"`
	EdgeID   string      `json:"edgeId,omitempty"`
	Selected bool        `json:"selected,omitempty"`
	Edge     *board.Edge `json:"edge,omitempty"`
}

// Connection names the two anchor points a new or reconnected edge spans.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// StateUpdate is pushed to the attached client whenever local state changes,
// whatever the origin (local mutation, remote row change, presence event).
type StateUpdate struct {
	Nodes   []board.Node            `json:"nodes"`
	Edges   []board.Edge            `json:"edges"`
	Role    Role                    `json:"role"`
	Joiners map[string]store.Joiner `json:"joiners"`
}

// Config tunes one session engine.
type Config struct {
	SaveDelay time.Duration
}

// Session is one participant's live attachment to a collaboration row: the
// canonical local node/edge arrays, the derived role, the cached session
// row, and the local-change flag that distinguishes "I just edited this"
// from "this arrived from the network".
//
// All event sources (client mutations, the row change feed, presence
// broadcasts, the debounce timer) are serialized through one mutex, so
// handlers never run concurrently but may interleave in any order.
type Session struct {
	store  Store
	bus    realtime.Bus
	access *Access
	saver  *Saver

	sessionID string
	user      auth.Identity
	onState   func(StateUpdate)

	mu          sync.Mutex
	data        store.Session
	nodes       []board.Node
	edges       []board.Edge
	role        Role
	loaded      bool
	localChange bool

	subs []realtime.Subscription
}

// Open loads the session row, establishes the feed and broadcast
// subscriptions, and auto-requests access when an authenticated stranger
// opens the session.
func Open(ctx context.Context, st Store, bus realtime.Bus, user auth.Identity, sessionID string, cfg Config, onState func(StateUpdate)) (*Session, error) {
	row, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	s := &Session{
		store:     st,
		bus:       bus,
		access:    NewAccess(st, sessionID),
		sessionID: sessionID,
		user:      user,
		onState:   onState,
		data:      row,
		role:      ResolveRole(user.Sub, &row),
	}
	s.saver = NewSaver(cfg.SaveDelay, func(ctx context.Context, stateNodes, stateEdges, _ string) error {
		return st.UpdateSessionState(ctx, sessionID, stateNodes, stateEdges)
	})

	// A malformed stored snapshot drops that piece only; the session still
	// opens.
	if nodes, err := board.DecodeNodes(row.StateNodes); err != nil {
		log.Printf("session %s: %v", sessionID, err)
		s.nodes = []board.Node{}
	} else {
		if err := board.ValidateNodes(nodes); err != nil {
			log.Printf("session %s: %v", sessionID, err)
		}
		s.nodes = nodes
	}
	if edges, err := board.DecodeEdges(row.StateEdges); err != nil {
		log.Printf("session %s: %v", sessionID, err)
		s.edges = []board.Edge{}
	} else {
		s.edges = edges
	}
	s.loaded = true

	rowSub, err := bus.SubscribeRowChanges(ctx, sessionID, s.handleRowChange)
	if err != nil {
		return nil, fmt.Errorf("subscribe row changes: %w", err)
	}
	s.subs = append(s.subs, rowSub)

	evSub, err := bus.SubscribeBroadcast(ctx, sessionID, "selection", s.handleSelectionBroadcast)
	if err != nil {
		rowSub.Close()
		return nil, fmt.Errorf("subscribe broadcast: %w", err)
	}
	s.subs = append(s.subs, evSub)

	// Auto-join: an authenticated viewer with no membership entry requests
	// access exactly once per session open.
	if s.role == RoleViewer && user.Sub != "" {
		if _, exists := row.Joiners[user.Sub]; !exists {
			s.RequestAccess(ctx)
		}
	}

	s.emit()
	return s, nil
}

// Close tears down the subscriptions and cancels any pending save.
func (s *Session) Close() {
	for _, sub := range s.subs {
		if err := sub.Close(); err != nil {
			log.Printf("session %s: close subscription: %v", s.sessionID, err)
		}
	}
	s.subs = nil
	s.saver.Close()
}

// Nodes returns a copy of the local node list.
func (s *Session) Nodes() []board.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]board.Node(nil), s.nodes...)
}

// Edges returns a copy of the local edge list.
func (s *Session) Edges() []board.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]board.Edge(nil), s.edges...)
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Joiners returns a copy of the cached membership map.
func (s *Session) Joiners() map[string]store.Joiner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJoiners(s.data.Joiners)
}

func (s *Session) User() auth.Identity { return s.user }

// ApplyNodeChanges applies a batch of node mutations. The batch is dirty
// unless every item is a pure selection toggle; selection-only batches never
// set the local-change flag and never trigger a save, but do broadcast
// presence.
func (s *Session) ApplyNodeChanges(ctx context.Context, changes []NodeChange) {
	s.mu.Lock()
	canEdit := s.role.CanEdit()
	touchedSelection := false
	dirty := false

	for _, change := range changes {
		if change.Kind == ChangeSelect {
			touchedSelection = true
			for i := range s.nodes {
				if s.nodes[i].ID == change.NodeID {
					s.nodes[i].Selected = change.Selected
				}
			}
			continue
		}
		if !canEdit {
			continue
		}
		dirty = true
		switch change.Kind {
		case ChangePosition:
			if change.Position == nil {
				continue
			}
			for i := range s.nodes {
				if s.nodes[i].ID == change.NodeID {
					s.nodes[i].Position = *change.Position
				}
			}
		case ChangeDimensions:
			for i := range s.nodes {
				if s.nodes[i].ID == change.NodeID {
					s.nodes[i].Width = change.Width
					s.nodes[i].Height = change.Height
				}
			}
		case ChangeData:
			if change.Data == nil {
				continue
			}
			for i := range s.nodes {
				if s.nodes[i].ID == change.NodeID {
					s.nodes[i].Data = *change.Data
				}
			}
		case ChangeAdd:
			if change.Node == nil {
				continue
			}
			if err := change.Node.Validate(); err != nil {
				log.Printf("session %s: reject node add: %v", s.sessionID, err)
				continue
			}
			s.nodes = append(s.nodes, *change.Node)
		case ChangeRemove:
			kept := s.nodes[:0]
			for _, n := range s.nodes {
				if n.ID != change.NodeID {
					kept = append(kept, n)
				}
			}
			s.nodes = kept
		}
	}

	if dirty {
		s.localChange = true
	}
	s.afterMutationLocked(ctx, touchedSelection)
}

// ApplyEdgeChanges applies a batch of edge mutations with the same
// classification rule as node changes.
func (s *Session) ApplyEdgeChanges(ctx context.Context, changes []EdgeChange) {
	s.mu.Lock()
	canEdit := s.role.CanEdit()
	dirty := false

	for _, change := range changes {
		if change.Kind == ChangeSelect {
			for i := range s.edges {
				if s.edges[i].ID == change.EdgeID {
					s.edges[i].Selected = change.Selected
				}
			}
			continue
		}
		if !canEdit {
			continue
		}
		dirty = true
		switch change.Kind {
		case ChangeAdd:
			if change.Edge == nil {
				continue
			}
			if err := change.Edge.Validate(); err != nil {
				log.Printf("session %s: reject edge add: %v", s.sessionID, err)
				continue
			}
			s.edges = append(s.edges, *change.Edge)
		case ChangeRemove:
			kept := s.edges[:0]
			for _, e := range s.edges {
				if e.ID != change.EdgeID {
					kept = append(kept, e)
				}
			}
			s.edges = kept
		}
	}

	if dirty {
		s.localChange = true
	}
	s.afterMutationLocked(ctx, false)
}

// Connect creates an edge between two anchors with the default rendering
// variant and arrow marker.
func (s *Session) Connect(ctx context.Context, conn Connection) {
	s.mu.Lock()
	if !s.role.CanEdit() || conn.Source == "" || conn.Target == "" {
		s.mu.Unlock()
		return
	}
	s.edges = append(s.edges, board.Edge{
		ID:           NewEdgeID(),
		Source:       conn.Source,
		Target:       conn.Target,
		SourceHandle: conn.SourceHandle,
		TargetHandle: conn.TargetHandle,
		Type:         "center",
		MarkerEnd:    &board.Marker{Type: "arrowclosed", Width: 20, Height: 20},
	})
	s.localChange = true
	s.afterMutationLocked(ctx, false)
}

// NodeDragStop settles a dragged node onto the grid and persists.
func (s *Session) NodeDragStop(ctx context.Context, nodeID string) {
	s.mu.Lock()
	if !s.role.CanEdit() {
		s.mu.Unlock()
		return
	}
	for i := range s.nodes {
		if s.nodes[i].ID == nodeID {
			s.nodes[i].Position = board.Snap(s.nodes[i].Position)
		}
	}
	s.localChange = true
	s.saver.Save(s.role, s.snapshotLocked())
	s.emitLocked(ctx, false)
}

// ReconnectEdge moves an existing edge onto new anchors. The move itself is
// transient: it must not mark the graph dirty, or a half-disconnected edge
// could be persisted mid-gesture.
func (s *Session) ReconnectEdge(ctx context.Context, edgeID string, conn Connection) {
	s.mu.Lock()
	if !s.role.CanEdit() {
		s.mu.Unlock()
		return
	}
	for i := range s.edges {
		if s.edges[i].ID == edgeID {
			s.edges[i].Source = conn.Source
			s.edges[i].Target = conn.Target
			s.edges[i].SourceHandle = conn.SourceHandle
			s.edges[i].TargetHandle = conn.TargetHandle
		}
	}
	s.localChange = false
	s.emitLocked(ctx, false)
}

// ReconnectEnd marks the completed reconnect dirty and persists it.
func (s *Session) ReconnectEnd(ctx context.Context) {
	s.mu.Lock()
	if !s.role.CanEdit() {
		s.mu.Unlock()
		return
	}
	s.localChange = true
	s.saver.Save(s.role, s.snapshotLocked())
	s.emitLocked(ctx, false)
}

// RequestAccess runs the join-request workflow for the current user. On
// success the local cache and role move to pending immediately; the host
// sees the request arrive through the change feed.
func (s *Session) RequestAccess(ctx context.Context) {
	s.mu.Lock()
	current := cloneJoiners(s.data.Joiners)
	s.mu.Unlock()

	updated, err := s.access.RequestAccess(ctx, s.user, current)
	if err != nil {
		log.Printf("session %s: %v", s.sessionID, err)
		return
	}
	if updated == nil {
		return
	}

	s.mu.Lock()
	s.data.Joiners = updated
	s.role = RolePending
	s.emitLocked(ctx, false)
}

// AcceptRequest promotes a pending joiner; host only. The local cache is
// updated optimistically, every peer converges via the change feed.
func (s *Session) AcceptRequest(ctx context.Context, userID string) {
	s.mu.Lock()
	role := s.role
	current := cloneJoiners(s.data.Joiners)
	s.mu.Unlock()

	updated, err := s.access.AcceptRequest(ctx, role, current, userID)
	if err != nil {
		log.Printf("session %s: %v", s.sessionID, err)
		return
	}
	if updated == nil {
		return
	}

	s.mu.Lock()
	s.data.Joiners = updated
	s.emitLocked(ctx, false)
}

// afterMutationLocked runs the auto-persist rule and releases the lock:
// save when the graph is dirty and nothing is selected locally, then emit,
// then broadcast presence if the batch touched selection.
func (s *Session) afterMutationLocked(ctx context.Context, touchedSelection bool) {
	if s.loaded && s.localChange && !s.anySelected() {
		s.saver.Save(s.role, s.snapshotLocked())
	}
	s.emitLocked(ctx, touchedSelection)
}

// snapshotLocked copies the live graph for the debouncer. The saver flushes
// on its own goroutine after the lock is released, so the payload must not
// alias slices that later batches rewrite in place.
func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Nodes: append([]board.Node(nil), s.nodes...),
		Edges: append([]board.Edge(nil), s.edges...),
	}
}

func (s *Session) anySelected() bool {
	for _, n := range s.nodes {
		if n.Selected {
			return true
		}
	}
	return false
}

// emitLocked snapshots state, releases the lock, pushes the update to the
// attached client, and optionally broadcasts the local selection.
func (s *Session) emitLocked(ctx context.Context, broadcastSelection bool) {
	update := StateUpdate{
		Nodes:   append([]board.Node(nil), s.nodes...),
		Edges:   append([]board.Edge(nil), s.edges...),
		Role:    s.role,
		Joiners: cloneJoiners(s.data.Joiners),
	}
	var ev *SelectionEvent
	if broadcastSelection && s.user.Sub != "" {
		ev = s.selectionEventLocked()
	}
	s.mu.Unlock()

	if s.onState != nil {
		s.onState(update)
	}
	if ev != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("session %s: encode selection: %v", s.sessionID, err)
			return
		}
		if err := s.bus.PublishBroadcast(ctx, s.sessionID, "selection", payload); err != nil {
			log.Printf("session %s: broadcast selection: %v", s.sessionID, err)
		}
	}
}

// selectionEventLocked builds the presence payload for the current
// selection, with the joiner's assigned color or the host defaults.
func (s *Session) selectionEventLocked() *SelectionEvent {
	name := "Host"
	color := "#ff0000"
	if joiner, ok := s.data.Joiners[s.user.Sub]; ok {
		if joiner.Name != "" {
			name = joiner.Name
		}
		if joiner.Color != "" {
			color = joiner.Color
		}
	}

	selected := make([]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		if n.Selected {
			selected = append(selected, n.ID)
		}
	}
	return &SelectionEvent{
		UserID:          s.user.Sub,
		UserName:        name,
		UserColor:       color,
		SelectedNodeIDs: selected,
	}
}

// emit pushes the current state without holding the lock on entry.
func (s *Session) emit() {
	s.mu.Lock()
	s.emitLocked(context.Background(), false)
}

// handleRowChange is the change-feed handler: membership updates first, then
// snapshot decode, then the outline-preserving merge, and finally the
// local-change flag is cleared. Clearing the flag marks the update as
// remote-origin so the echo of our own save is never re-persisted.
func (s *Session) handleRowChange(raw json.RawMessage) {
	var row store.Session
	if err := json.Unmarshal(raw, &row); err != nil {
		log.Printf("session %s: decode row change: %v", s.sessionID, err)
		return
	}

	s.mu.Lock()
	if !joinersEqual(row.Joiners, s.data.Joiners) {
		s.data.Joiners = row.Joiners
		if s.user.Sub != row.Host {
			// The host may have just approved or changed our membership;
			// recompute the role without waiting for a reload.
			s.role = ResolveRole(s.user.Sub, &row)
		}
	}

	if nodes, err := board.DecodeNodes(row.StateNodes); err != nil {
		// Partial update: drop this piece, keep the loop alive.
		log.Printf("session %s: %v", s.sessionID, err)
	} else {
		if err := board.ValidateNodes(nodes); err != nil {
			log.Printf("session %s: %v", s.sessionID, err)
		}
		s.nodes = MergeNodes(s.nodes, nodes)
		s.localChange = false
	}

	if edges, err := board.DecodeEdges(row.StateEdges); err != nil {
		log.Printf("session %s: %v", s.sessionID, err)
	} else {
		s.edges = edges
		s.localChange = false
	}

	s.emitLocked(context.Background(), false)
}

// handleSelectionBroadcast paints a peer's selection onto local nodes.
// Our own broadcasts come back through the channel and are ignored.
func (s *Session) handleSelectionBroadcast(raw json.RawMessage) {
	var ev SelectionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("session %s: decode selection: %v", s.sessionID, err)
		return
	}
	if ev.UserID == s.user.Sub {
		return
	}

	s.mu.Lock()
	s.nodes = ApplyPresence(s.nodes, ev)
	s.emitLocked(context.Background(), false)
}
