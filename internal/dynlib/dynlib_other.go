//go:build !linux

package dynlib

import "errors"

// openFile is a stub on platforms the stdlib plugin package does not
// support (darwin, windows); loading always fails with LoadFailed at
// the pluginmanager layer.
func openFile(path string) (Library, error) {
	return nil, wrapOpenErr(path, errors.New("plugin: shared-library loading is only supported on linux"))
}
