// Package collab is the realtime synchronization core: role resolution, the
// join-request workflow, the debounced persister, and the session engine
// that reconciles local edits with remote row changes and presence
// broadcasts.
package collab

import "geiger/api/internal/store"

// Role is a participant's derived permission level. It is computed from the
// session row on demand and never persisted on its own.
type Role string

const (
	RoleHost    Role = "host"
	RoleEditor  Role = "editor"
	RolePending Role = "pending"
	RoleViewer  Role = "viewer"
)

// ResolveRole maps (user, session row) to a role. Pure and total: an absent
// user or session is a viewer, the host is fixed at creation, everyone else
// is classified by their joiner status.
func ResolveRole(userID string, sess *store.Session) Role {
	if userID == "" || sess == nil {
		return RoleViewer
	}
	if sess.Host == userID {
		return RoleHost
	}
	joiner, ok := sess.Joiners[userID]
	if !ok {
		return RoleViewer
	}
	switch joiner.Status {
	case store.JoinerJoined:
		return RoleEditor
	case store.JoinerRequested:
		return RolePending
	default:
		return RoleViewer
	}
}

// CanEdit reports whether the role may mutate the shared graph.
func (r Role) CanEdit() bool {
	return r == RoleHost || r == RoleEditor
}
