package rbac

import "testing"

func TestCanModerate(t *testing.T) {
	cases := []struct {
		name  string
		role  Role
		allow bool
	}{
		{name: "admin", role: RoleAdmin, allow: true},
		{name: "sub-admin", role: RoleSubAdmin, allow: true},
		{name: "member", role: RoleMember, allow: false},
		{name: "unknown", role: Role("owner"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanModerate(tc.role); got != tc.allow {
				t.Fatalf("CanModerate(%q) = %v, want %v", tc.role, got, tc.allow)
			}
			if got := BypassesContentChecks(tc.role); got != tc.allow {
				t.Fatalf("BypassesContentChecks(%q) = %v, want %v", tc.role, got, tc.allow)
			}
		})
	}
}

func TestAssignable(t *testing.T) {
	if Assignable(RoleAdmin) {
		t.Fatalf("admin role must not be assignable")
	}
	if !Assignable(RoleSubAdmin) || !Assignable(RoleMember) {
		t.Fatalf("sub-admin and member must be assignable")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("sub-admin"); got != RoleSubAdmin {
		t.Fatalf("Normalize(sub-admin) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleMember {
		t.Fatalf("Normalize(superuser) = %q, want member", got)
	}
}
