package board

import (
	"testing"
)

func sampleNodes() []Node {
	return []Node{
		{
			ID:       "n1",
			Type:     NodeCustom,
			Position: Position{X: 30, Y: 45},
			Selected: true,
			Data: NodeData{
				Label:     "first",
				Reactions: map[string]int{"👍": 2},
				Outline:   &Outline{Enabled: true, Name: "Ada", Color: "#AABBCC"},
			},
		},
		{
			ID:       "n2",
			Type:     NodeLink,
			Position: Position{X: 0, Y: 0},
			Data:     NodeData{Label: "docs", URL: "https://example.com"},
		},
	}
}

func TestSanitizeNodesStripsEphemeralState(t *testing.T) {
	nodes := sampleNodes()
	sanitized := SanitizeNodes(nodes)

	for _, n := range sanitized {
		if n.Selected {
			t.Errorf("node %s still selected after sanitize", n.ID)
		}
		if n.Data.Outline != nil {
			t.Errorf("node %s still carries outline after sanitize", n.ID)
		}
	}

	// Input must be untouched.
	if !nodes[0].Selected || nodes[0].Data.Outline == nil {
		t.Error("sanitize mutated its input")
	}
	// Durable data survives.
	if sanitized[0].Data.Reactions["👍"] != 2 {
		t.Error("sanitize dropped reactions")
	}
	if sanitized[1].Data.URL != "https://example.com" {
		t.Error("sanitize dropped variant payload")
	}
}

func TestSanitizeEdges(t *testing.T) {
	edges := []Edge{{ID: "e1", Source: "n1", Target: "n2", Selected: true}}
	sanitized := SanitizeEdges(edges)
	if sanitized[0].Selected {
		t.Error("edge still selected after sanitize")
	}
	if !edges[0].Selected {
		t.Error("sanitize mutated its input")
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	once := SanitizeNodes(sampleNodes())
	raw, err := EncodeNodes(once)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeNodes(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	twice := SanitizeNodes(decoded)

	rawTwice, err := EncodeNodes(twice)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if raw != rawTwice {
		t.Errorf("sanitize of sanitized data changed the snapshot:\n%s\nvs\n%s", raw, rawTwice)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	edges := []Edge{{
		ID:        "e1",
		Source:    "n1",
		Target:    "n2",
		Type:      "center",
		MarkerEnd: &Marker{Type: "arrowclosed", Width: 20, Height: 20},
	}}
	raw, err := EncodeEdges(edges)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeEdges(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 || decoded[0].MarkerEnd == nil || decoded[0].MarkerEnd.Type != "arrowclosed" {
		t.Errorf("round trip lost marker: %+v", decoded)
	}
}

func TestDecodeEmptyAndNil(t *testing.T) {
	nodes, err := DecodeNodes("")
	if err != nil || nodes == nil || len(nodes) != 0 {
		t.Errorf("empty input should decode to empty list, got %v, %v", nodes, err)
	}
	nodes, err = DecodeNodes("null")
	if err != nil || nodes == nil {
		t.Errorf("null input should decode to empty list, got %v, %v", nodes, err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := DecodeNodes("{not json"); err == nil {
		t.Error("expected error for malformed node snapshot")
	}
	if _, err := DecodeEdges("[{]"); err == nil {
		t.Error("expected error for malformed edge snapshot")
	}
}

func TestSnap(t *testing.T) {
	cases := []struct {
		in   Position
		want Position
	}{
		{Position{X: 0, Y: 0}, Position{X: 0, Y: 0}},
		{Position{X: 7, Y: 8}, Position{X: 0, Y: 15}},
		{Position{X: 22, Y: -22}, Position{X: 15, Y: -15}},
		{Position{X: 157.4, Y: 157.6}, Position{X: 150, Y: 165}},
	}
	for _, tc := range cases {
		got := Snap(tc.in)
		if got != tc.want {
			t.Errorf("Snap(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := (Node{ID: "n1", Type: NodeImage}).Validate(); err != nil {
		t.Errorf("valid node rejected: %v", err)
	}
	if err := (Node{Type: NodeCustom}).Validate(); err == nil {
		t.Error("node without id accepted")
	}
	if err := (Node{ID: "n1", Type: "hologram"}).Validate(); err == nil {
		t.Error("unknown node type accepted")
	}
	if err := (Edge{ID: "e1", Source: "a", Target: "b"}).Validate(); err != nil {
		t.Errorf("valid edge rejected: %v", err)
	}
	if err := (Edge{ID: "e1", Source: "a"}).Validate(); err == nil {
		t.Error("edge without target accepted")
	}
}
