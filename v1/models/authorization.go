package models

// AuthorizationMode defines how the system behaves when no explicit permission is defined for an endpoint
type AuthorizationMode string

const (
	// AuthorizationModeFailClosed - Deny all access to undefined endpoints (most secure)
	AuthorizationModeFailClosed AuthorizationMode = "fail_closed"

	// AuthorizationModeFailOpenAdminSystem - Allow admin and system users, deny others
	AuthorizationModeFailOpenAdminSystem AuthorizationMode = "fail_open_admin_system"

	// AuthorizationModeFailOpenAdmin - Allow only admin users, deny others
	AuthorizationModeFailOpenAdmin AuthorizationMode = "fail_open_admin"
)

// ParseAuthorizationMode maps a config string onto a mode
func ParseAuthorizationMode(s string) (AuthorizationMode, bool) {
	switch AuthorizationMode(s) {
	case AuthorizationModeFailClosed, AuthorizationModeFailOpenAdmin, AuthorizationModeFailOpenAdminSystem:
		return AuthorizationMode(s), true
	}
	return "", false
}

// Role represents user roles in the system
type Role string

const (
	RoleAdmin  Role = "FaithConnect_Admin"  // Full access including account management
	RoleStaff  Role = "FaithConnect_Staff"  // Manages the member directory
	RoleMember Role = "FaithConnect_Member" // Reads and edits their own record
	RoleSystem Role = "FaithConnect_System" // Read access for internal services
)

// Permission represents specific permissions
type Permission string

const (
	PermissionCreateMember   Permission = "member:create"
	PermissionReadMember     Permission = "member:read"
	PermissionUpdateMember   Permission = "member:update"
	PermissionDeleteMember   Permission = "member:delete"
	PermissionReadAllMembers Permission = "member:read:all"
	PermissionManageAccounts Permission = "account:manage"
	PermissionEditGraph      Permission = "relationship:edit"
	PermissionRepairGraph    Permission = "relationship:repair"
)

// RolePermissions defines what permissions each role has
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionCreateMember, PermissionReadMember, PermissionUpdateMember, PermissionDeleteMember,
		PermissionReadAllMembers, PermissionManageAccounts, PermissionEditGraph, PermissionRepairGraph,
	},
	RoleStaff: {
		PermissionCreateMember, PermissionReadMember, PermissionUpdateMember, PermissionDeleteMember,
		PermissionReadAllMembers, PermissionEditGraph, PermissionRepairGraph,
	},
	RoleMember: {
		PermissionReadMember, PermissionUpdateMember,
	},
	RoleSystem: {
		PermissionReadMember, PermissionReadAllMembers,
	},
}

// EndpointPermission defines the required permission for each endpoint
type EndpointPermission struct {
	Method              string
	Path                string
	Permission          Permission
	IsOwnershipRequired bool // Whether the user must own the resource
}

// EndpointPermissions maps HTTP endpoints to required permissions. A "*"
// matches exactly one path segment; exact paths win over patterns.
var EndpointPermissions = []EndpointPermission{
	{"GET", "/api/v1/members", PermissionReadMember, false},
	{"POST", "/api/v1/members", PermissionCreateMember, false},
	{"GET", "/api/v1/members/stream", PermissionReadMember, false},
	{"POST", "/api/v1/members/*/login", PermissionManageAccounts, false},
	{"GET", "/api/v1/members/*/relationships", PermissionReadMember, true},
	{"GET", "/api/v1/members/*", PermissionReadMember, true},
	{"PUT", "/api/v1/members/*", PermissionUpdateMember, true},
	{"PATCH", "/api/v1/members/*", PermissionUpdateMember, true},
	{"DELETE", "/api/v1/members/*", PermissionDeleteMember, false},

	{"POST", "/api/v1/accounts/password-reset", PermissionManageAccounts, false},
	{"DELETE", "/api/v1/users/*", PermissionManageAccounts, false},

	{"GET", "/api/v1/relationships/integrity", PermissionReadAllMembers, false},
	{"POST", "/api/v1/relationships/integrity/repair", PermissionRepairGraph, false},
}

// HasPermission checks if a role has a specific permission
func (r Role) HasPermission(permission Permission) bool {
	permissions, exists := RolePermissions[r]
	if !exists {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is valid
func (r Role) IsValid() bool {
	_, exists := RolePermissions[r]
	return exists
}
