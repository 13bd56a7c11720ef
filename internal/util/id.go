// Package util holds small helpers with no better home.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 128-bit random identifier, hex encoded and optionally
// namespaced ("edge_3f2a..."). Edges minted during a collaboration session
// use this; session and board rows get their ids from the store.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
