// Package resolver validates manifest dependencies against a registry
// and produces dependency-respecting load orders, per spec.md §4.3.
// The general shape — adjacency built from declared dependencies,
// failure on an unresolved edge — is grounded on
// other_examples/35349388_web-casa-webcasa's topoSort; the algorithm
// itself is the DFS with temporary/permanent marks the spec requires
// (distinct from that example's Kahn's-algorithm BFS), because
// detect_cycles must agree with resolve_load_order's failure case on
// exactly that mark semantics.
package resolver

import (
	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginerrors"
	"github.com/goatkit/pluginhost/internal/registry"
	"github.com/goatkit/pluginhost/internal/semver"
)

// Resolver validates and orders plugin dependencies against a Registry.
type Resolver struct {
	reg *registry.Registry
}

// New constructs a Resolver bound to reg.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// CheckDependencies implements spec.md §4.3's check_dependencies: every
// non-optional dependency must exist in the registry at a compatible
// version, and no currently-loaded plugin may conflict with m.
func (r *Resolver) CheckDependencies(m *manifest.Manifest) error {
	for _, dep := range m.Dependencies {
		if dep.Optional {
			continue
		}
		entry, err := r.reg.Get(dep.PluginID)
		if err != nil {
			return pluginerrors.Wrap(pluginerrors.KindMissingDependency, m.ID, err)
		}
		depVersion, err := entry.Manifest.ParsedVersion()
		if err != nil {
			return pluginerrors.Wrap(pluginerrors.KindMissingDependency, m.ID, err)
		}
		constraint, err := semver.ParseConstraint(dep.Constraint)
		if err != nil {
			return pluginerrors.Wrap(pluginerrors.KindIncompatibleVersion, m.ID, err)
		}
		if !constraint.Satisfies(depVersion) {
			return pluginerrors.New(pluginerrors.KindIncompatibleVersion, m.ID)
		}
	}

	for _, conflictID := range m.ConflictsWith {
		entry, err := r.reg.Get(conflictID)
		if err != nil {
			continue // unregistered conflicts can't be loaded, so no conflict
		}
		if entry.Loaded {
			return pluginerrors.New(pluginerrors.KindConflictingPlugin, m.ID)
		}
	}
	return nil
}

// ResolveLoadOrder runs a post-order DFS from each requested id,
// visiting non-optional dependencies first. Ties are broken by input
// order. A node revisited while on the current DFS stack is a cycle;
// a dependency absent from the registry is MissingDependency.
func (r *Resolver) ResolveLoadOrder(ids []string) ([]string, error) {
	temp := make(map[string]bool)
	perm := make(map[string]bool)
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		if perm[id] {
			return nil
		}
		if temp[id] {
			return pluginerrors.New(pluginerrors.KindCircularDependency, id)
		}
		entry, err := r.reg.Get(id)
		if err != nil {
			return pluginerrors.Wrap(pluginerrors.KindMissingDependency, id, err)
		}
		temp[id] = true
		for _, dep := range entry.Manifest.Dependencies {
			if dep.Optional {
				continue
			}
			if err := visit(dep.PluginID); err != nil {
				return err
			}
		}
		temp[id] = false
		perm[id] = true
		order = append(order, id)
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// DetectCycles runs the same DFS as ResolveLoadOrder but only reports
// whether a cycle exists among ids and their transitive non-optional
// dependencies, returning the identical verdict ResolveLoadOrder's
// failure case would for the same input.
func (r *Resolver) DetectCycles(ids []string) bool {
	_, err := r.ResolveLoadOrder(ids)
	return pluginerrors.Is(err, pluginerrors.KindCircularDependency)
}
