package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin      = "admin"
	RoleNurse      = "nurse"
	RoleOperator   = "operator"
	RoleSuperAdmin = "super_admin"
	RoleVoiceAgent = "voice_agent" // hidden role, machine identity for the call agent
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleVoiceAgent }
