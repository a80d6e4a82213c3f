// Package manifest defines the declarative plugin metadata record and
// its validation rules, grounded on pkg/plugin's PluginManifest shape
// and AnalyseDeCircuit's registry/manifest Validate() pattern.
package manifest

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/goatkit/pluginhost/internal/pluginerrors"
	"github.com/goatkit/pluginhost/internal/semver"
)

// Dependency declares a requirement on another plugin id at a version
// constraint, optionally marked as non-blocking.
type Dependency struct {
	PluginID   string `yaml:"plugin_id" json:"plugin_id"`
	Constraint string `yaml:"version" json:"version"`
	Optional   bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Manifest is the immutable declarative record accompanying a plugin
// artifact. Once loaded it is never mutated, except that a successful
// Validate decodes CapabilitiesRaw into Capabilities; Validate reports
// the first structural problem it finds.
type Manifest struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	License     string `yaml:"license,omitempty" json:"license,omitempty"`
	APIVersion  uint32 `yaml:"api_version" json:"api_version"`

	Capabilities Capabilities `yaml:"-" json:"-"`
	CapabilitiesRaw uint32    `yaml:"capabilities" json:"capabilities"`

	Dependencies       []Dependency `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	ConflictsWith      []string     `yaml:"conflicts_with,omitempty" json:"conflicts_with,omitempty"`
	RequiredPermissions []Permission `yaml:"required_permissions,omitempty" json:"required_permissions,omitempty"`

	ChecksumSHA256 []byte `yaml:"checksum_sha256,omitempty" json:"checksum_sha256,omitempty"`
	Signature      []byte `yaml:"signature,omitempty" json:"signature,omitempty"`

	ZigVersionMin string `yaml:"zig_version_min,omitempty" json:"zig_version_min,omitempty"`
	ZigVersionMax string `yaml:"zig_version_max,omitempty" json:"zig_version_max,omitempty"`

	MaxMemoryMB *uint32 `yaml:"max_memory_mb,omitempty" json:"max_memory_mb,omitempty"`
}

// ParsedVersion parses the Version field. Callers that already validated
// the manifest may ignore the error.
func (m *Manifest) ParsedVersion() (semver.Version, error) {
	return semver.Parse(m.Version)
}

// Validate checks the structural invariants from spec.md §4.1:
// non-empty id/name, matching api_version, and version_min <= version_max
// when both are present.
func (m *Manifest) Validate(hostAPIVersion uint32) error {
	if m.ID == "" {
		return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, "", errEmptyID)
	}
	if m.Name == "" {
		return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, m.ID, errEmptyName)
	}
	if _, err := m.ParsedVersion(); err != nil {
		return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, m.ID, err)
	}
	if m.APIVersion != hostAPIVersion {
		return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, m.ID, errAPIVersionMismatch)
	}
	for _, p := range m.RequiredPermissions {
		if !p.Valid() {
			return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, m.ID, errUnknownPermission)
		}
	}
	if m.ZigVersionMin != "" && m.ZigVersionMax != "" {
		minV, err := semver.Parse(m.ZigVersionMin)
		if err != nil {
			return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, m.ID, err)
		}
		maxV, err := semver.Parse(m.ZigVersionMax)
		if err != nil {
			return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, m.ID, err)
		}
		if maxV.Less(minV) {
			return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, m.ID, errVersionRangeInverted)
		}
	}
	cap, err := Decode(m.CapabilitiesRaw)
	if err != nil {
		return pluginerrors.Wrap(pluginerrors.KindInvalidManifest, m.ID, err)
	}
	m.Capabilities = cap
	return nil
}

// Load reads and parses a manifest from a YAML file on disk. Manifests
// may also be constructed in-memory and registered directly — this is
// the "preferred" path per spec.md §6; Load exists for hosts that keep
// manifests alongside their artifacts.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, pluginerrors.Wrap(pluginerrors.KindInvalidManifest, "", err)
	}
	return &m, nil
}
