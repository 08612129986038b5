package auth

import "slices"

// Permission represents a named capability of the admin API.
type Permission string

// Permission constants.
const (
	PermRoutingRead     Permission = "routing:read"
	PermRoutingOperate  Permission = "routing:operate"
	PermSnapshotManage  Permission = "snapshot:manage"
	PermEventsRead      Permission = "events:read"
	PermEventsPublish   Permission = "events:publish"
	PermAuditRead       Permission = "audit:read"
	PermRegistrationOps Permission = "registration:manage"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermRoutingRead,
		PermEventsRead,
		PermAuditRead,
	},
	RoleOperator: {
		PermRoutingRead,
		PermRoutingOperate,
		PermEventsRead,
		PermEventsPublish,
		PermAuditRead,
	},
	RoleAdmin: {
		PermRoutingRead,
		PermRoutingOperate,
		PermSnapshotManage,
		PermEventsRead,
		PermEventsPublish,
		PermAuditRead,
		PermRegistrationOps,
	},
}

// HasPermission reports whether role grants perm. Unknown roles grant
// nothing.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of role's grants, nil for an unknown
// role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
