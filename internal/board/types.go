// Package board models the canvas graph: positioned nodes, directed edges,
// and the per-user camera viewport. The wire format matches what the canvas
// client renders, so encoded snapshots round-trip through the store untouched.
package board

import (
	"encoding/json"
	"fmt"
	"math"
)

// GridUnit is the spacing nodes settle onto when a drag stops.
const GridUnit = 15

// Node type discriminators. Unknown types are rejected at the decode
// boundary rather than silently carried.
const (
	NodeCustom   = "custom"
	NodeComment  = "comment"
	NodeLink     = "link"
	NodeBoard    = "board"
	NodeDocument = "document"
	NodeImage    = "image"
	NodeFile     = "file"
)

var knownNodeTypes = map[string]struct{}{
	NodeCustom:   {},
	NodeComment:  {},
	NodeLink:     {},
	NodeBoard:    {},
	NodeDocument: {},
	NodeImage:    {},
	NodeFile:     {},
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Outline is the transient presence ring a remote peer's selection paints on
// a node. It is never persisted; sanitize strips it before every write.
type Outline struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name,omitempty"`
	Color   string `json:"color,omitempty"`
}

// NodeData is the per-variant payload. Every variant carries a label; the
// remaining fields are meaningful only for the node type that owns them.
type NodeData struct {
	Label     string         `json:"label"`
	Reactions map[string]int `json:"reactions,omitempty"`
	Outline   *Outline       `json:"outline,omitempty"`

	URL      string `json:"url,omitempty"`      // link
	Icon     string `json:"icon,omitempty"`     // board
	Text     string `json:"text,omitempty"`     // comment, document
	Src      string `json:"src,omitempty"`      // image
	Caption  string `json:"caption,omitempty"`  // image
	Drawing  string `json:"drawing,omitempty"`  // image overlay strokes
	FileName string `json:"fileName,omitempty"` // file
	FileURL  string `json:"fileUrl,omitempty"`  // file
}

type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Position Position        `json:"position"`
	Width    float64         `json:"width,omitempty"`
	Height   float64         `json:"height,omitempty"`
	Selected bool            `json:"selected,omitempty"`
	Data     NodeData        `json:"data"`
	Style    json.RawMessage `json:"style,omitempty"`
}

type Marker struct {
	Type   string  `json:"type"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

type Edge struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	SourceHandle string  `json:"sourceHandle,omitempty"`
	TargetHandle string  `json:"targetHandle,omitempty"`
	Type         string  `json:"type,omitempty"`
	Selected     bool    `json:"selected,omitempty"`
	MarkerEnd    *Marker `json:"markerEnd,omitempty"`
}

// Viewport is session/user-local camera state. It is persisted for the
// single-user board only and never synchronized to peers.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Validate checks the structural invariants a node must satisfy before it
// crosses the merge or persistence boundary.
func (n Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node missing id")
	}
	if _, ok := knownNodeTypes[n.Type]; !ok {
		return fmt.Errorf("node %s: unknown type %q", n.ID, n.Type)
	}
	return nil
}

// Validate checks an edge's structural invariants. Referential integrity
// against the node set is deliberately not enforced here: the replication
// model is last-writer-wins over full snapshots, and a snapshot written by a
// peer is applied as-is even if it references nodes this client has deleted.
func (e Edge) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("edge missing id")
	}
	if e.Source == "" || e.Target == "" {
		return fmt.Errorf("edge %s: missing endpoint", e.ID)
	}
	return nil
}

// Snap rounds a position onto the drag-stop grid.
func Snap(p Position) Position {
	return Position{
		X: math.Round(p.X/GridUnit) * GridUnit,
		Y: math.Round(p.Y/GridUnit) * GridUnit,
	}
}
