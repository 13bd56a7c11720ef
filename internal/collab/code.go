package collab

import (
	"crypto/rand"
	"fmt"

	"geiger/api/internal/util"
)

// codeAlphabet excludes characters that read ambiguously when a code is
// shared aloud or scribbled down (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codePrefix = "GEIGER"

// NewSessionCode generates a human-shareable join code of the form
// GEIGER-XXXX-XXXX from a cryptographically strong random source.
func NewSessionCode() string {
	return fmt.Sprintf("%s-%s-%s", codePrefix, codeSegment(), codeSegment())
}

func codeSegment() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	segment := make([]byte, len(buf))
	for i, b := range buf {
		segment[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(segment)
}

// RandomColor returns a 6-hex-digit presence color. Uniqueness across
// joiners is neither guaranteed nor required; the color only disambiguates
// remote selections visually.
func RandomColor() string {
	const hexDigits = "0123456789ABCDEF"
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	color := make([]byte, 6)
	for i, b := range buf {
		color[i] = hexDigits[int(b)%len(hexDigits)]
	}
	return "#" + string(color)
}

// NewEdgeID returns a unique id for an edge created by connecting two nodes.
func NewEdgeID() string {
	return util.NewID("edge")
}
