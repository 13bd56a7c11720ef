package board

import (
	"encoding/json"
	"fmt"
)

// SanitizeNodes returns a copy of nodes with all ephemeral UI and presence
// state stripped: selection flags are forced off and presence outlines are
// removed. Persisted snapshots must never contain either.
func SanitizeNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		n.Selected = false
		n.Data.Outline = nil
		out[i] = n
	}
	return out
}

// SanitizeEdges returns a copy of edges with selection flags forced off.
func SanitizeEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	for i, e := range edges {
		e.Selected = false
		out[i] = e
	}
	return out
}

// EncodeNodes serializes a node list for storage. A nil list encodes as an
// empty array so a fresh session row never holds SQL NULL state.
func EncodeNodes(nodes []Node) (string, error) {
	if nodes == nil {
		nodes = []Node{}
	}
	raw, err := json.Marshal(nodes)
	if err != nil {
		return "", fmt.Errorf("encode nodes: %w", err)
	}
	return string(raw), nil
}

// EncodeEdges serializes an edge list for storage.
func EncodeEdges(edges []Edge) (string, error) {
	if edges == nil {
		edges = []Edge{}
	}
	raw, err := json.Marshal(edges)
	if err != nil {
		return "", fmt.Errorf("encode edges: %w", err)
	}
	return string(raw), nil
}

// DecodeNodes parses a stored node snapshot. Empty input decodes to an empty
// list; a malformed blob is an error the caller must treat as a dropped
// piece, never as a reason to crash the session.
func DecodeNodes(raw string) ([]Node, error) {
	if raw == "" {
		return []Node{}, nil
	}
	var nodes []Node
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	if nodes == nil {
		nodes = []Node{}
	}
	return nodes, nil
}

// DecodeEdges parses a stored edge snapshot.
func DecodeEdges(raw string) ([]Edge, error) {
	if raw == "" {
		return []Edge{}, nil
	}
	var edges []Edge
	if err := json.Unmarshal([]byte(raw), &edges); err != nil {
		return nil, fmt.Errorf("decode edges: %w", err)
	}
	if edges == nil {
		edges = []Edge{}
	}
	return edges, nil
}

// EncodeViewport serializes camera state for the single-user board row.
func EncodeViewport(v Viewport) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode viewport: %w", err)
	}
	return string(raw), nil
}

// DecodeViewport parses stored camera state; empty input yields the default
// camera.
func DecodeViewport(raw string) (Viewport, error) {
	if raw == "" {
		return Viewport{Zoom: 1}, nil
	}
	var v Viewport
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Viewport{}, fmt.Errorf("decode viewport: %w", err)
	}
	return v, nil
}

// ValidateNodes runs the merge-boundary checks over a decoded snapshot and
// reports the first structural problem found.
func ValidateNodes(nodes []Node) error {
	for _, n := range nodes {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEdges reports the first structurally invalid edge.
func ValidateEdges(edges []Edge) error {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}
