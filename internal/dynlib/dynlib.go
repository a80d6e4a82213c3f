// Package dynlib abstracts the host's native-shared-library primitive
// behind a small interface, so internal/pluginmanager can be tested
// without real .so/.dylib/.dll artifacts. The production
// implementation wraps the stdlib "plugin" package — the only
// mechanism in the Go ecosystem that opens a -buildmode=plugin shared
// object and resolves exported symbols by name, which is exactly
// spec.md §6's ABI contract. See DESIGN.md for why no third-party
// library could serve this role instead.
package dynlib

import (
	"fmt"
	"runtime"
	"strings"
)

// Library is a single opened shared-library handle. Lookup resolves an
// exported symbol by name; Close releases the host's reference to it.
//
// Go's stdlib plugin package has no facility to actually unmap a shared
// object from the process — a limitation shared by most garbage
// collected runtimes' dlopen bindings. Close is therefore a logical
// release: it marks the handle unusable and lets the manager account
// for it as unloaded, even though the OS-level mapping persists for the
// life of the process. This is documented here rather than silently
// ignored.
type Library interface {
	Lookup(symbol string) (any, error)
	Close() error
}

// Opener opens a shared library file at path. Production code uses
// Open; tests inject a fake via dynlibtest.
type Opener func(path string) (Library, error)

// Open is the default Opener, backed by the stdlib plugin package.
var Open Opener = openFile

// ArtifactExtension returns the OS-appropriate shared-library extension,
// including the leading dot.
func ArtifactExtension() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// ArtifactFileName returns the conventional file name for a plugin
// named name: "lib<name>.so" / "lib<name>.dylib" on POSIX, "<name>.dll"
// on Windows.
func ArtifactFileName(name string) string {
	ext := ArtifactExtension()
	if runtime.GOOS == "windows" {
		return name + ext
	}
	return "lib" + name + ext
}

// NameFromArtifact recovers a plugin name from a file name produced by
// ArtifactFileName, stripping the OS-appropriate prefix and extension.
// Returns false if the file name does not match the convention.
func NameFromArtifact(fileName string) (string, bool) {
	ext := ArtifactExtension()
	if !strings.HasSuffix(fileName, ext) {
		return "", false
	}
	name := strings.TrimSuffix(fileName, ext)
	if runtime.GOOS != "windows" {
		if !strings.HasPrefix(name, "lib") {
			return "", false
		}
		name = strings.TrimPrefix(name, "lib")
	}
	if name == "" {
		return "", false
	}
	return name, true
}

// HasArtifactExtension reports whether fileName ends in the
// OS-appropriate shared-library extension, independent of prefix.
func HasArtifactExtension(fileName string) bool {
	return strings.HasSuffix(fileName, ArtifactExtension())
}

func wrapOpenErr(path string, err error) error {
	return fmt.Errorf("dynlib: open %s: %w", path, err)
}
