// Package dynlibtest provides a fake dynlib.Library for exercising
// internal/pluginmanager without real shared-library artifacts, the
// same way internal/plugin/manager_test.go in the teacher repo injects
// a mockHostAPI/mockPlugin directly instead of loading through the real
// runtime.
package dynlibtest

import (
	"fmt"

	"github.com/goatkit/pluginhost/internal/dynlib"
)

// Fake is an in-memory dynlib.Library backed by a symbol table supplied
// by the test.
type Fake struct {
	Symbols map[string]any
	closed  bool
	OnClose func()
}

// Lookup implements dynlib.Library.
func (f *Fake) Lookup(symbol string) (any, error) {
	if f.closed {
		return nil, fmt.Errorf("dynlibtest: library closed")
	}
	v, ok := f.Symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("dynlibtest: symbol %s not found", symbol)
	}
	return v, nil
}

// Close implements dynlib.Library.
func (f *Fake) Close() error {
	f.closed = true
	if f.OnClose != nil {
		f.OnClose()
	}
	return nil
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool { return f.closed }

// Registry is a fake Opener backed by a fixed map of path -> Library,
// for injecting into pluginmanager.Manager via WithOpener.
type Registry struct {
	Libraries map[string]*Fake
	OpenErr   map[string]error
}

// NewRegistry constructs an empty fake library registry.
func NewRegistry() *Registry {
	return &Registry{Libraries: make(map[string]*Fake), OpenErr: make(map[string]error)}
}

// Put registers a fake library to be returned when path is opened.
func (r *Registry) Put(path string, lib *Fake) { r.Libraries[path] = lib }

// FailOpen arranges for opening path to return err.
func (r *Registry) FailOpen(path string, err error) { r.OpenErr[path] = err }

// Opener returns a dynlib.Opener bound to this registry.
func (r *Registry) Opener() dynlib.Opener {
	return func(path string) (dynlib.Library, error) {
		if err, ok := r.OpenErr[path]; ok {
			return nil, err
		}
		lib, ok := r.Libraries[path]
		if !ok {
			return nil, fmt.Errorf("dynlibtest: no fake registered for %s", path)
		}
		return lib, nil
	}
}
