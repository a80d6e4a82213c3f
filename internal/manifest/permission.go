package manifest

// Permission is one of the closed set of capabilities a plugin may
// request in its manifest. Equality is by tag; ordering is irrelevant.
type Permission string

const (
	PermissionFilesystemRead  Permission = "filesystem_read"
	PermissionFilesystemWrite Permission = "filesystem_write"
	PermissionNetworkClient   Permission = "network_client"
	PermissionNetworkServer   Permission = "network_server"
	PermissionDatabaseRead    Permission = "database_read"
	PermissionDatabaseWrite   Permission = "database_write"
	PermissionAccessEnv       Permission = "access_env"
	PermissionHTTPRoutes      Permission = "http_register_routes"
	PermissionEventPublish    Permission = "event_publish"
	PermissionEventSubscribe  Permission = "event_subscribe"
	PermissionExecuteCommands Permission = "execute_commands"
)

// AllPermissions lists the closed permission domain, in declaration
// order. Useful for validating manifests loaded from untrusted input.
var AllPermissions = []Permission{
	PermissionFilesystemRead,
	PermissionFilesystemWrite,
	PermissionNetworkClient,
	PermissionNetworkServer,
	PermissionDatabaseRead,
	PermissionDatabaseWrite,
	PermissionAccessEnv,
	PermissionHTTPRoutes,
	PermissionEventPublish,
	PermissionEventSubscribe,
	PermissionExecuteCommands,
}

// Valid reports whether p is one of the known permissions.
func (p Permission) Valid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}
