package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "anonymous read", role: RoleAnonymous, action: ActionRead, allow: true},
		{name: "anonymous contribute", role: RoleAnonymous, action: ActionContribute, allow: false},
		{name: "user read", role: RoleUser, action: ActionRead, allow: true},
		{name: "user contribute", role: RoleUser, action: ActionContribute, allow: true},
		{name: "user review", role: RoleUser, action: ActionReview, allow: false},
		{name: "user sync", role: RoleUser, action: ActionSync, allow: false},
		{name: "admin review", role: RoleAdmin, action: ActionReview, allow: true},
		{name: "admin sync", role: RoleAdmin, action: ActionSync, allow: true},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("bot"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Role
	}{
		{"user", RoleUser},
		{"admin", RoleAdmin},
		{"", RoleAnonymous},
		{"superuser", RoleAnonymous},
	}

	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
