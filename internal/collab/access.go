package collab

import (
	"context"
	"fmt"
	"time"

	"geiger/api/internal/auth"
	"geiger/api/internal/store"
)

// JoinerStore is the slice of the session store the access workflow needs.
type JoinerStore interface {
	UpdateSessionJoiners(ctx context.Context, sessionID string, joiners map[string]store.Joiner) error
}

// Access manages the request-to-join / approve workflow by replacing the
// session row's joiners map wholesale.
//
// The presence guard in RequestAccess reads the caller's cached joiners map,
// which can be stale under concurrent access: two near-simultaneous requests
// may both pass the guard and issue overlapping writes. That window is
// accepted; both writes insert the same entry, and the change feed settles
// every client on the winning row.
type Access struct {
	store     JoinerStore
	sessionID string
}

func NewAccess(s JoinerStore, sessionID string) *Access {
	return &Access{store: s, sessionID: sessionID}
}

// RequestAccess inserts a requested-status entry for the user and writes the
// updated map. Returns the new map, or nil when the call was a no-op (no
// user, no session, or an entry already present).
func (a *Access) RequestAccess(ctx context.Context, user auth.Identity, current map[string]store.Joiner) (map[string]store.Joiner, error) {
	if user.Sub == "" || a.sessionID == "" {
		return nil, nil
	}
	if _, exists := current[user.Sub]; exists {
		return nil, nil
	}

	updated := cloneJoiners(current)
	updated[user.Sub] = store.Joiner{
		ID:          user.Sub,
		Status:      store.JoinerRequested,
		Email:       user.Email,
		Name:        user.DisplayName(),
		RequestedAt: time.Now().UTC(),
	}

	if err := a.store.UpdateSessionJoiners(ctx, a.sessionID, updated); err != nil {
		return nil, fmt.Errorf("request access: %w", err)
	}
	return updated, nil
}

// AcceptRequest promotes a pending joiner to joined and assigns a presence
// color. Only the host may accept; anyone else, or a user id without an
// entry, is a no-op.
func (a *Access) AcceptRequest(ctx context.Context, role Role, current map[string]store.Joiner, userID string) (map[string]store.Joiner, error) {
	if role != RoleHost {
		return nil, nil
	}
	entry, exists := current[userID]
	if !exists {
		return nil, nil
	}

	now := time.Now().UTC()
	entry.Status = store.JoinerJoined
	entry.JoinedAt = &now
	entry.Color = RandomColor()

	updated := cloneJoiners(current)
	updated[userID] = entry

	if err := a.store.UpdateSessionJoiners(ctx, a.sessionID, updated); err != nil {
		return nil, fmt.Errorf("accept request: %w", err)
	}
	return updated, nil
}

func cloneJoiners(joiners map[string]store.Joiner) map[string]store.Joiner {
	out := make(map[string]store.Joiner, len(joiners)+1)
	for id, j := range joiners {
		out[id] = j
	}
	return out
}
