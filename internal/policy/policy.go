// Package policy implements the host's allow/deny permission sets and
// resource caps applied to every plugin, modeled on AnalyseDeCircuit's
// plugin/policy package (preset constructors, a CheckManifest-style
// verdict) but built around spec.md's explicit allow/deny permission
// lists rather than a risk-level scale.
package policy

import (
	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginerrors"
)

// SecurityPolicy is the host-owned rule set gating manifest verification.
// Denied permissions always win over allowed ones.
type SecurityPolicy struct {
	Allowed            []manifest.Permission
	Denied             []manifest.Permission
	RequireSignature   bool
	MaxPluginMemoryMB  uint32
	SandboxEnabled     bool // advisory only; see spec.md §9 open questions
}

func permSet(perms []manifest.Permission) map[manifest.Permission]bool {
	s := make(map[manifest.Permission]bool, len(perms))
	for _, p := range perms {
		s[p] = true
	}
	return s
}

// Strict denies execute_commands and network_server, requires a
// signature, and caps memory tightly.
func Strict() SecurityPolicy {
	return SecurityPolicy{
		Allowed: []manifest.Permission{
			manifest.PermissionFilesystemRead,
			manifest.PermissionEventPublish,
			manifest.PermissionEventSubscribe,
		},
		Denied: []manifest.Permission{
			manifest.PermissionExecuteCommands,
			manifest.PermissionNetworkServer,
			manifest.PermissionFilesystemWrite,
			manifest.PermissionAccessEnv,
			manifest.PermissionDatabaseWrite,
		},
		RequireSignature:  true,
		MaxPluginMemoryMB: 64,
	}
}

// Default allows every permission except execute_commands, does not
// require signatures, and caps memory at a generous but bounded value.
func Default() SecurityPolicy {
	return SecurityPolicy{
		Allowed: []manifest.Permission{
			manifest.PermissionFilesystemRead,
			manifest.PermissionFilesystemWrite,
			manifest.PermissionNetworkClient,
			manifest.PermissionNetworkServer,
			manifest.PermissionDatabaseRead,
			manifest.PermissionDatabaseWrite,
			manifest.PermissionAccessEnv,
			manifest.PermissionHTTPRoutes,
			manifest.PermissionEventPublish,
			manifest.PermissionEventSubscribe,
		},
		Denied: []manifest.Permission{
			manifest.PermissionExecuteCommands,
		},
		RequireSignature:  false,
		MaxPluginMemoryMB: 256,
	}
}

// Permissive allows every known permission and imposes only a large
// memory ceiling. Intended for local development, not production.
func Permissive() SecurityPolicy {
	return SecurityPolicy{
		Allowed:           append([]manifest.Permission{}, manifest.AllPermissions...),
		Denied:            nil,
		RequireSignature:  false,
		MaxPluginMemoryMB: 4096,
	}
}

func (p SecurityPolicy) allows(perm manifest.Permission) bool {
	denied := permSet(p.Denied)
	if denied[perm] {
		return false
	}
	return permSet(p.Allowed)[perm]
}

// CheckManifest implements spec.md §4.1 step 3: every required
// permission must be allowed and not denied, and declared memory must
// not exceed the policy cap.
func (p SecurityPolicy) CheckManifest(m *manifest.Manifest) error {
	for _, perm := range m.RequiredPermissions {
		if !p.allows(perm) {
			return pluginerrors.WithReason(m.ID, pluginerrors.ReasonPermissionDenied, nil)
		}
	}
	if m.MaxMemoryMB != nil && *m.MaxMemoryMB > p.MaxPluginMemoryMB {
		return pluginerrors.WithReason(m.ID, pluginerrors.ReasonMemoryLimitExceeded, nil)
	}
	return nil
}
