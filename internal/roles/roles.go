// Package roles defines the closed set of user roles and the access check
// used by resource services when authorizing requests.
package roles

// Role is one of the predefined user roles.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// IsValid reports whether the role is one of the predefined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// Parse safely converts a string into a Role.
func Parse(s string) (Role, bool) {
	r := Role(s)
	return r, r.IsValid()
}

// HasAccess reports whether userRole satisfies the required role. A role
// satisfies exactly itself, except SuperAdmin, which satisfies any
// requirement. There is no other hierarchy between roles.
func HasAccess(userRole, required Role) bool {
	if !userRole.IsValid() || !required.IsValid() {
		return false
	}
	if userRole == RoleSuperAdmin {
		return true
	}
	return userRole == required
}
