package collab

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"geiger/api/internal/board"
)

type writeRecorder struct {
	mu     sync.Mutex
	writes []recordedWrite
}

type recordedWrite struct {
	nodes    string
	edges    string
	viewport string
}

func (r *writeRecorder) write(_ context.Context, stateNodes, stateEdges, stateViewport string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, recordedWrite{nodes: stateNodes, edges: stateEdges, viewport: stateViewport})
	return nil
}

func (r *writeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *writeRecorder) last() recordedWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes[len(r.writes)-1]
}

func waitForWrites(t *testing.T, r *writeRecorder, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("writes = %d, want %d", r.count(), want)
}

func TestSaverCoalescesBurst(t *testing.T) {
	rec := &writeRecorder{}
	saver := NewSaver(30*time.Millisecond, rec.write)
	defer saver.Close()

	for i := 0; i < 10; i++ {
		saver.Save(RoleHost, Snapshot{Nodes: []board.Node{{ID: "n1", Type: board.NodeCustom}}})
		time.Sleep(2 * time.Millisecond)
	}
	waitForWrites(t, rec, 1)

	// Let a second window elapse; the burst must have produced one write.
	time.Sleep(80 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("writes = %d, want 1", rec.count())
	}
}

func TestSaverWritesLastSnapshot(t *testing.T) {
	rec := &writeRecorder{}
	saver := NewSaver(20*time.Millisecond, rec.write)
	defer saver.Close()

	saver.Save(RoleEditor, Snapshot{Nodes: []board.Node{{ID: "first", Type: board.NodeCustom}}})
	saver.Save(RoleEditor, Snapshot{Nodes: []board.Node{{ID: "second", Type: board.NodeCustom}}})
	waitForWrites(t, rec, 1)

	if w := rec.last(); !strings.Contains(w.nodes, "second") || strings.Contains(w.nodes, "first") {
		t.Fatalf("persisted nodes = %s, want only the last snapshot", w.nodes)
	}
}

func TestSaverStripsEphemeralState(t *testing.T) {
	rec := &writeRecorder{}
	saver := NewSaver(10*time.Millisecond, rec.write)
	defer saver.Close()

	saver.Save(RoleHost, Snapshot{
		Nodes: []board.Node{{
			ID:       "n1",
			Type:     board.NodeCustom,
			Selected: true,
			Data:     board.NodeData{Outline: &board.Outline{Enabled: true, Name: "Ada"}},
		}},
		Edges: []board.Edge{{ID: "e1", Source: "n1", Target: "n1", Selected: true}},
	})
	waitForWrites(t, rec, 1)

	w := rec.last()
	if strings.Contains(w.nodes, "selected") || strings.Contains(w.nodes, "outline") {
		t.Fatalf("persisted nodes carry ephemeral state: %s", w.nodes)
	}
	if strings.Contains(w.edges, "selected") {
		t.Fatalf("persisted edges carry ephemeral state: %s", w.edges)
	}
}

func TestSaverIgnoresReadOnlyRoles(t *testing.T) {
	rec := &writeRecorder{}
	saver := NewSaver(10*time.Millisecond, rec.write)
	defer saver.Close()

	saver.Save(RoleViewer, Snapshot{Nodes: []board.Node{{ID: "n1", Type: board.NodeCustom}}})
	saver.Save(RolePending, Snapshot{Nodes: []board.Node{{ID: "n1", Type: board.NodeCustom}}})

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("writes = %d, want 0", rec.count())
	}
}

func TestSaverCloseCancelsPending(t *testing.T) {
	rec := &writeRecorder{}
	saver := NewSaver(50*time.Millisecond, rec.write)

	saver.Save(RoleHost, Snapshot{Nodes: []board.Node{{ID: "n1", Type: board.NodeCustom}}})
	saver.Close()

	time.Sleep(100 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("writes = %d, want 0 after close", rec.count())
	}
}

func TestSaverIncludesViewport(t *testing.T) {
	rec := &writeRecorder{}
	saver := NewSaver(10*time.Millisecond, rec.write)
	defer saver.Close()

	saver.Save(RoleHost, Snapshot{
		Nodes:    []board.Node{{ID: "n1", Type: board.NodeCustom}},
		Viewport: &board.Viewport{X: 12, Y: -4, Zoom: 1.5},
	})
	waitForWrites(t, rec, 1)

	if w := rec.last(); !strings.Contains(w.viewport, "1.5") {
		t.Fatalf("viewport not persisted: %q", w.viewport)
	}
}
