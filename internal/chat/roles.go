package chat

// Role is a member's standing inside a single room. A user holds at most one
// role per room; users without a membership row have no role at all.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleMod    Role = "MOD"
	RoleMember Role = "MEMBER"
	RoleBanned Role = "BANNED"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleMod, RoleMember, RoleBanned:
		return true
	}
	return false
}

// Order ranks roles for member-list display: OWNER first, BANNED last.
func (r Role) Order() int {
	switch r {
	case RoleOwner:
		return 0
	case RoleMod:
		return 1
	case RoleMember:
		return 2
	case RoleBanned:
		return 3
	}
	return 9
}
