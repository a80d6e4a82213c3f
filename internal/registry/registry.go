// Package registry implements the in-memory plugin index: the
// register/unregister/get surface, a capability secondary index, and
// directory discovery, modeled on internal/apierrors/registry.go's
// mutex-guarded map-plus-secondary-index shape and
// internal/plugin/loader/loader.go's filesystem discovery walk.
package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goatkit/pluginhost/internal/dynlib"
	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginerrors"
	"github.com/goatkit/pluginhost/internal/semver"
)

// Entry is the registry's record for one known plugin: its manifest,
// the artifact path it was registered with, and the manager's mirrored
// load state. Loaded/Handle are written only by the manager, through
// SetLoaded/SetUnloaded — see spec.md §4.2.
type Entry struct {
	Manifest     *manifest.Manifest
	ArtifactPath string
	Loaded       bool
	Handle       any
}

// Registry is the thread-safe in-memory plugin index.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Entry
	byCap  map[manifest.Capabilities][]string // capability bitmap -> ids, exact match
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:   make(map[string]*Entry),
		byCap:  make(map[manifest.Capabilities][]string),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts a new entry keyed by manifest.ID, updating the
// capability index. Fails AlreadyRegistered if the id is present.
func (r *Registry) Register(m *manifest.Manifest, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[m.ID]; exists {
		return pluginerrors.New(pluginerrors.KindAlreadyRegistered, m.ID)
	}
	r.byID[m.ID] = &Entry{Manifest: m, ArtifactPath: path}
	r.byCap[m.Capabilities] = append(r.byCap[m.Capabilities], m.ID)
	r.logger.Info("plugin registered", "id", m.ID, "version", m.Version, "capabilities", m.Capabilities)
	return nil
}

// Unregister removes the entry and all capability-index references.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return pluginerrors.New(pluginerrors.KindNotFound, id)
	}
	delete(r.byID, id)
	r.removeFromCapIndex(e.Manifest.Capabilities, id)
	r.logger.Info("plugin unregistered", "id", id)
	return nil
}

func (r *Registry) removeFromCapIndex(cap manifest.Capabilities, id string) {
	ids := r.byCap[cap]
	for i, existing := range ids {
		if existing == id {
			r.byCap[cap] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byCap[cap]) == 0 {
		delete(r.byCap, cap)
	}
}

// Get returns a borrowed view of the entry for id. No ownership
// transfer: callers must not mutate the returned Manifest.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, pluginerrors.New(pluginerrors.KindNotFound, id)
	}
	cp := *e
	return &cp, nil
}

// SetLoaded mirrors the manager's load state onto the registry entry.
// Called only by the manager.
func (r *Registry) SetLoaded(id string, handle any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return pluginerrors.New(pluginerrors.KindNotFound, id)
	}
	e.Loaded = true
	e.Handle = handle
	return nil
}

// SetUnloaded clears the mirrored load state. Called only by the manager.
func (r *Registry) SetUnloaded(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return pluginerrors.New(pluginerrors.KindNotFound, id)
	}
	e.Loaded = false
	e.Handle = nil
	return nil
}

// FindByCapability returns the ids whose manifest declares a bitmap
// exactly equal to cap. Exact-bitmap match is deliberate; callers
// filter further for subset semantics.
func (r *Registry) FindByCapability(cap manifest.Capabilities) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byCap[cap]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Discover enumerates files in dir whose extension matches the host
// OS's shared-library convention and returns the count. It does not
// parse manifests — callers register discovered artifacts explicitly.
func (r *Registry) Discover(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if dynlib.HasArtifactExtension(e.Name()) {
			count++
			r.logger.Debug("discovered plugin artifact", "path", filepath.Join(dir, e.Name()))
		}
	}
	return count, nil
}

// CheckCompatibility compares the host toolchain version against the
// manifest's zig_version_min/zig_version_max bounds.
func (r *Registry) CheckCompatibility(id string, hostVersion semver.Version) (bool, error) {
	e, err := r.Get(id)
	if err != nil {
		return false, err
	}
	m := e.Manifest
	if m.ZigVersionMin != "" {
		min, err := semver.Parse(m.ZigVersionMin)
		if err == nil && hostVersion.Less(min) {
			r.logger.Warn("host version below plugin minimum", "id", id, "min", m.ZigVersionMin, "host", hostVersion)
			return false, nil
		}
	}
	if m.ZigVersionMax != "" {
		max, err := semver.Parse(m.ZigVersionMax)
		if err == nil && max.Less(hostVersion) {
			r.logger.Warn("host version above plugin maximum", "id", id, "max", m.ZigVersionMax, "host", hostVersion)
			return false, nil
		}
	}
	return true, nil
}

// AllIDs returns a snapshot of every currently registered id, sorted
// for deterministic iteration.
func (r *Registry) AllIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
