//go:build linux

package dynlib

import "plugin"

// stdlibLibrary wraps a *plugin.Plugin, the only OS this stdlib package
// supports opening shared objects on.
type stdlibLibrary struct {
	p      *plugin.Plugin
	closed bool
}

func openFile(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, wrapOpenErr(path, err)
	}
	return &stdlibLibrary{p: p}, nil
}

func (l *stdlibLibrary) Lookup(symbol string) (any, error) {
	if l.closed {
		return nil, errClosed
	}
	return l.p.Lookup(symbol)
}

// Close marks the handle unusable. See the Library doc comment: the
// stdlib plugin package cannot actually unmap the shared object.
func (l *stdlibLibrary) Close() error {
	l.closed = true
	return nil
}
