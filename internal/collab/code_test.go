package collab

import (
	"regexp"
	"strings"
	"testing"
)

func TestNewSessionCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^GEIGER-[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`)
	for i := 0; i < 50; i++ {
		code := NewSessionCode()
		if !pattern.MatchString(code) {
			t.Fatalf("code %q does not match expected format", code)
		}
		for _, c := range []string{"0", "1", "O", "I"} {
			if strings.Contains(strings.TrimPrefix(code, "GEIGER-"), c) {
				t.Fatalf("code %q contains ambiguous character %s", code, c)
			}
		}
	}
}

func TestNewSessionCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		seen[NewSessionCode()] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected distinct codes across calls")
	}
}

func TestRandomColorFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^#[0-9A-F]{6}$`)
	for i := 0; i < 50; i++ {
		if color := RandomColor(); !pattern.MatchString(color) {
			t.Fatalf("color %q does not match expected format", color)
		}
	}
}
