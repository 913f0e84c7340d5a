package rbac

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSubAdmin Role = "sub-admin"
	RoleMember   Role = "member"
)

// CanModerate reports whether the role carries moderator capabilities:
// deleting and pinning messages, restricting members, managing keywords
// and settings. Admin and sub-admin are equivalent here; what separates
// them is the primary-admin target protection, not the capability set.
func CanModerate(role Role) bool {
	return role == RoleAdmin || role == RoleSubAdmin
}

// BypassesContentChecks reports whether the role skips keyword, phone
// and file-sharing checks when sending. Restriction windows still apply.
func BypassesContentChecks(role Role) bool {
	return role == RoleAdmin || role == RoleSubAdmin
}

// Assignable reports whether a role may be set through member updates.
// The admin role is bound to the primary-admin phone and is never
// assignable.
func Assignable(role Role) bool {
	return role == RoleSubAdmin || role == RoleMember
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleSubAdmin, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}
