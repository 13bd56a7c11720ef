// Package auth parses the opaque identity tokens minted by the external
// authentication layer. The collaboration core never stores credentials; a
// valid token is the only identity surface it sees.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Identity is the authenticated user as carried in a signed token. Email and
// Name feed the joiner entries a user creates when requesting access.
type Identity struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Exp   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken signs an identity. Used by tests and by deployments that run
// without a separate identity provider.
func IssueToken(secret []byte, identity Identity) (string, error) {
	payloadBytes, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("marshal identity: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(secret, payload), nil
}

// ParseToken verifies the signature and expiry and returns the identity.
func ParseToken(secret []byte, token string) (Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Identity{}, ErrInvalidToken
	}
	payload, signature := parts[0], parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Identity{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	var identity Identity
	if err := json.Unmarshal(decoded, &identity); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if identity.Sub == "" || identity.Exp == 0 {
		return Identity{}, ErrInvalidToken
	}
	if time.Now().Unix() >= identity.Exp {
		return Identity{}, ErrExpiredToken
	}
	return identity, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// DisplayName derives the name shown to peers, falling back to the mailbox
// part of the email the way the canvas client does.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if at := strings.Index(i.Email, "@"); at > 0 {
		return i.Email[:at]
	}
	return "Unknown"
}
