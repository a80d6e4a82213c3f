package manifest

import "fmt"

// Capabilities is a 32-bit bitmap over the closed extension-point
// domain. The bit assignment is stable across host versions for ABI
// purposes — never renumber existing bits, only append.
type Capabilities uint32

const (
	CapHTTPHandlers Capabilities = 1 << iota
	CapMiddleware
	CapScheduler
	CapDatabaseHooks
	CapEventListener
	CapTemplateExtension
	CapCustomRoutes
	CapWebsocket

	// capKnownMask covers every bit assigned above; upper bits must be
	// zero on decode.
	capKnownMask = CapHTTPHandlers | CapMiddleware | CapScheduler | CapDatabaseHooks |
		CapEventListener | CapTemplateExtension | CapCustomRoutes | CapWebsocket
)

// Has reports whether c includes flag.
func (c Capabilities) Has(flag Capabilities) bool { return c&flag != 0 }

// Encode returns the bitmap as a uint32, the host ABI's wire form.
func (c Capabilities) Encode() uint32 { return uint32(c) }

// Decode validates and converts a raw bitmap into Capabilities. Any bit
// outside capKnownMask is rejected, per spec §6.
func Decode(bitmap uint32) (Capabilities, error) {
	c := Capabilities(bitmap)
	if c&^capKnownMask != 0 {
		return 0, fmt.Errorf("capabilities: reserved bits set: %#x", uint32(c&^capKnownMask))
	}
	return c, nil
}

var capNames = map[Capabilities]string{
	CapHTTPHandlers:      "http_handlers",
	CapMiddleware:        "middleware",
	CapScheduler:         "scheduler",
	CapDatabaseHooks:     "database_hooks",
	CapEventListener:     "event_listener",
	CapTemplateExtension: "template_extension",
	CapCustomRoutes:      "custom_routes",
	CapWebsocket:         "websocket",
}

// String renders the set bits as a comma-separated name list, for logs.
func (c Capabilities) String() string {
	if c == 0 {
		return "none"
	}
	s := ""
	for flag := CapHTTPHandlers; flag <= CapWebsocket; flag <<= 1 {
		if c.Has(flag) {
			if s != "" {
				s += ","
			}
			s += capNames[flag]
		}
	}
	return s
}
