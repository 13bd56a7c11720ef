package collab

import (
	"context"
	"log"
	"sync"
	"time"

	"geiger/api/internal/board"
)

// DefaultSaveDelay is the debounce window for collaborative sessions; edits
// from a drag or a typing burst coalesce into one write.
const DefaultSaveDelay = 100 * time.Millisecond

// DefaultBoardSaveDelay is the much longer window used for a user's private
// board, where no peer is waiting on the write.
const DefaultBoardSaveDelay = 5 * time.Second

const saveWriteTimeout = 10 * time.Second

// Snapshot is one save payload. Viewport is only set for the single-user
// board variant; collaborative saves never carry camera state.
type Snapshot struct {
	Nodes    []board.Node
	Edges    []board.Edge
	Viewport *board.Viewport
}

// WriteFunc commits one sanitized, encoded snapshot. stateViewport is empty
// when the snapshot carried no viewport.
type WriteFunc func(ctx context.Context, stateNodes, stateEdges, stateViewport string) error

// Saver is the trailing-edge debouncer in front of the session store. Each
// Save cancels any pending write and schedules a new one, so only the last
// payload within a burst is ever written. Ephemeral UI state is stripped
// before every write.
type Saver struct {
	delay time.Duration
	write WriteFunc

	mu      sync.Mutex
	timer   *time.Timer
	pending Snapshot
	closed  bool
}

func NewSaver(delay time.Duration, write WriteFunc) *Saver {
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	return &Saver{delay: delay, write: write}
}

// Save schedules a debounced write of the snapshot. Read-only participants
// never write: any role other than host or editor is a no-op.
func (s *Saver) Save(role Role, snap Snapshot) {
	if !role.CanEdit() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = snap
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, s.flush)
}

func (s *Saver) flush() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	snap := s.pending
	s.mu.Unlock()

	stateNodes, err := board.EncodeNodes(board.SanitizeNodes(snap.Nodes))
	if err != nil {
		log.Printf("save: %v", err)
		return
	}
	stateEdges, err := board.EncodeEdges(board.SanitizeEdges(snap.Edges))
	if err != nil {
		log.Printf("save: %v", err)
		return
	}
	stateViewport := ""
	if snap.Viewport != nil {
		encoded, err := board.EncodeViewport(*snap.Viewport)
		if err != nil {
			log.Printf("save: %v", err)
			return
		}
		stateViewport = encoded
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveWriteTimeout)
	defer cancel()
	if err := s.write(ctx, stateNodes, stateEdges, stateViewport); err != nil {
		// Reported, not retried: the next save or the next incoming row
		// change is the recovery path.
		log.Printf("save state: %v", err)
	}
}

// Close cancels any pending write so a stale timer can never commit state
// for a torn-down session.
func (s *Saver) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
