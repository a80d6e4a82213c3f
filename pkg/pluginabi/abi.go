// Package pluginabi defines the stable symbol table a plugin shared
// library must export, per spec.md §6. Each plugin built with
// `go build -buildmode=plugin` exports these as package-level funcs;
// the host resolves them by name through internal/dynlib. This package
// lives outside internal/ specifically so plugin modules — built and
// versioned independently of the host — can import it: the stdlib
// plugin package's symbol lookup type-asserts against the exact
// function type, so host and plugin must share the same named Info/
// Handle types rather than each defining their own structurally-equal
// copy.
package pluginabi

// PluginAPIVersion is the host's current ABI version. A manifest whose
// APIVersion differs is rejected before the library is ever opened.
const PluginAPIVersion uint32 = 1

// Exported symbol names, resolved via dynlib.Library.Lookup. Required
// symbols missing after resolution produce MissingSymbol; Start/Stop
// are optional.
const (
	SymbolGetInfo         = "PluginGetInfo"
	SymbolGetCapabilities = "PluginGetCapabilities"
	SymbolInit            = "PluginInit"
	SymbolDeinit          = "PluginDeinit"
	SymbolStart           = "PluginStart"
	SymbolStop            = "PluginStop"
)

// Handle is the opaque pointer a plugin returns from Init and that the
// host threads back through Start/Stop/Deinit. The host must never
// dereference it — ownership crosses the ABI boundary, not the type.
type Handle = any

// Info mirrors the C-layout PluginInfo record from spec.md §6: five
// strings plus the api_version the plugin was built against.
type Info struct {
	Name        string
	Version     string
	Description string
	Author      string
	License     string
	APIVersion  uint32
}

// GetInfoFunc is the signature a plugin's PluginGetInfo must have.
type GetInfoFunc func() *Info

// GetCapabilitiesFunc is the signature a plugin's PluginGetCapabilities
// must have; it returns the raw 32-bit capability bitmap.
type GetCapabilitiesFunc func() uint32

// InitFunc is the signature a plugin's PluginInit must have. A nil
// return means initialization failed.
type InitFunc func() Handle

// DeinitFunc is the signature a plugin's PluginDeinit must have.
type DeinitFunc func(Handle)

// StartFunc is the signature a plugin's optional PluginStart must have.
type StartFunc func(Handle) bool

// StopFunc is the signature a plugin's optional PluginStop must have.
type StopFunc func(Handle) bool

// Table holds the resolved, type-asserted symbols for one loaded
// plugin. Start/Stop may be nil when the plugin did not export them.
type Table struct {
	GetInfo         GetInfoFunc
	GetCapabilities GetCapabilitiesFunc
	Init            InitFunc
	Deinit          DeinitFunc
	Start           StartFunc
	Stop            StopFunc
}
