package collab

import (
	"time"

	"geiger/api/internal/board"
	"geiger/api/internal/store"
)

// SelectionEvent is the presence broadcast payload: who has which nodes
// selected right now. It travels the ephemeral channel only and is never
// persisted.
type SelectionEvent struct {
	UserID          string   `json:"userId"`
	UserName        string   `json:"userName"`
	UserColor       string   `json:"userColor"`
	SelectedNodeIDs []string `json:"selectedNodeIds"`
}

// MergeNodes applies an incoming snapshot over the local node list. The
// incoming value wins wholesale for every node, with one exception: a local
// node currently carrying an enabled presence outline keeps it, because
// outlines are never persisted and would otherwise flicker off on every
// remote save.
func MergeNodes(local, incoming []board.Node) []board.Node {
	byID := make(map[string]board.Node, len(local))
	for _, n := range local {
		byID[n.ID] = n
	}

	merged := make([]board.Node, len(incoming))
	for i, n := range incoming {
		if current, ok := byID[n.ID]; ok {
			if current.Data.Outline != nil && current.Data.Outline.Enabled {
				outline := *current.Data.Outline
				n.Data.Outline = &outline
			}
		}
		merged[i] = n
	}
	return merged
}

// ApplyPresence paints a peer's selection onto the local node list: every
// node in the selected set gets an enabled outline tagged with the sender,
// nodes whose outline was previously attributed to that sender but are no
// longer selected get theirs cleared, and everything else is untouched.
func ApplyPresence(nodes []board.Node, ev SelectionEvent) []board.Node {
	selected := make(map[string]struct{}, len(ev.SelectedNodeIDs))
	for _, id := range ev.SelectedNodeIDs {
		selected[id] = struct{}{}
	}

	out := make([]board.Node, len(nodes))
	for i, n := range nodes {
		if _, isSelected := selected[n.ID]; isSelected {
			n.Data.Outline = &board.Outline{
				Enabled: true,
				Name:    ev.UserName,
				Color:   ev.UserColor,
			}
		} else if n.Data.Outline != nil && n.Data.Outline.Name == ev.UserName {
			n.Data.Outline = &board.Outline{Enabled: false}
		}
		out[i] = n
	}
	return out
}

// joinersEqual compares two membership maps by value, the check that decides
// whether an incoming row change carries a membership update.
func joinersEqual(a, b map[string]store.Joiner) bool {
	if len(a) != len(b) {
		return false
	}
	for id, ja := range a {
		jb, ok := b[id]
		if !ok {
			return false
		}
		if ja.Status != jb.Status || ja.Color != jb.Color ||
			ja.Email != jb.Email || ja.Name != jb.Name ||
			!ja.RequestedAt.Equal(jb.RequestedAt) ||
			!timePtrEqual(ja.JoinedAt, jb.JoinedAt) {
			return false
		}
	}
	return true
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
