package permission

type Role string

const (
	// RoleNone means no authenticated user
	RoleNone     Role = ""
	RoleClient   Role = "client"
	RoleEmployee Role = "employee"
	RoleAdmin    Role = "admin"
)

// Capabilities is the fixed set of flags the rest of the system gates on.
// Callers destructure the result without existence checks, so every field is
// always present regardless of role.
type Capabilities struct {
	CanEdit              bool `json:"can_edit"`
	CanComment           bool `json:"can_comment"`
	CanResolveComments   bool `json:"can_resolve_comments"`
	CanEditOwnComments   bool `json:"can_edit_own_comments"`
	CanDeleteOwnComments bool `json:"can_delete_own_comments"`
	CanChangeStatus      bool `json:"can_change_status"`
}

// ForRole derives capability flags from a role. Pure, no external calls.
func ForRole(role Role) Capabilities {
	switch role {
	case RoleEmployee, RoleAdmin:
		return Capabilities{
			CanEdit:              true,
			CanComment:           true,
			CanResolveComments:   true,
			CanEditOwnComments:   true,
			CanDeleteOwnComments: true,
			CanChangeStatus:      true,
		}
	case RoleClient:
		return Capabilities{
			CanComment:           true,
			CanResolveComments:   true,
			CanEditOwnComments:   true,
			CanDeleteOwnComments: true,
		}
	default:
		return Capabilities{}
	}
}

// Normalize maps an arbitrary role string onto a known Role. Unknown values
// fall back to unauthenticated rather than guessing upward.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleClient, RoleEmployee, RoleAdmin:
		return Role(role)
	default:
		return RoleNone
	}
}
