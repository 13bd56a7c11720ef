package collab

import (
	"testing"
	"time"

	"geiger/api/internal/store"
)

func TestResolveRole(t *testing.T) {
	joined := time.Now().UTC()
	sess := &store.Session{
		Host: "user-host",
		Joiners: map[string]store.Joiner{
			"user-editor":  {ID: "user-editor", Status: store.JoinerJoined, JoinedAt: &joined},
			"user-pending": {ID: "user-pending", Status: store.JoinerRequested},
		},
	}

	cases := []struct {
		name   string
		userID string
		sess   *store.Session
		want   Role
	}{
		{"host", "user-host", sess, RoleHost},
		{"joined member", "user-editor", sess, RoleEditor},
		{"requested member", "user-pending", sess, RolePending},
		{"stranger", "user-stranger", sess, RoleViewer},
		{"anonymous", "", sess, RoleViewer},
		{"nil session", "user-host", nil, RoleViewer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveRole(tc.userID, tc.sess); got != tc.want {
				t.Fatalf("ResolveRole(%q) = %q, want %q", tc.userID, got, tc.want)
			}
		})
	}
}

func TestRoleCanEdit(t *testing.T) {
	cases := map[Role]bool{
		RoleHost:    true,
		RoleEditor:  true,
		RolePending: false,
		RoleViewer:  false,
	}
	for role, want := range cases {
		if got := role.CanEdit(); got != want {
			t.Errorf("%s.CanEdit() = %v, want %v", role, got, want)
		}
	}
}
