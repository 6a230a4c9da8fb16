package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionSync     Action = "sync"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionRead || action == ActionWrite || action == ActionSync || action == ActionModerate
	case RoleMember:
		return action == ActionRead || action == ActionWrite || action == ActionSync
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
