package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/dynlib"
	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginerrors"
	"github.com/goatkit/pluginhost/internal/registry"
	"github.com/goatkit/pluginhost/internal/semver"
)

func m(id string) *manifest.Manifest {
	return &manifest.Manifest{ID: id, Name: id, Version: "1.0.0", APIVersion: 1}
}

func TestRegisterAndGet(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(m("a"), "/path/a.so"))

	e, err := r.Get("a")
	require.NoError(t, err)
	require.Equal(t, "a", e.Manifest.ID)
	require.False(t, e.Loaded)
}

func TestRegisterDuplicate(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(m("a"), "/a.so"))
	err := r.Register(m("a"), "/a.so")
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindAlreadyRegistered))
}

func TestUnregisterNotFound(t *testing.T) {
	r := registry.New()
	err := r.Unregister("missing")
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindNotFound))
}

func TestUnregisterRemovesCapabilityIndex(t *testing.T) {
	r := registry.New()
	mm := m("a")
	mm.CapabilitiesRaw = uint32(manifest.CapHTTPHandlers)
	mm.Capabilities = manifest.CapHTTPHandlers
	require.NoError(t, r.Register(mm, "/a.so"))
	require.Equal(t, []string{"a"}, r.FindByCapability(manifest.CapHTTPHandlers))

	require.NoError(t, r.Unregister("a"))
	require.Empty(t, r.FindByCapability(manifest.CapHTTPHandlers))
}

func TestSetLoadedUnloadedMirror(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(m("a"), "/a.so"))

	require.NoError(t, r.SetLoaded("a", "handle"))
	e, _ := r.Get("a")
	require.True(t, e.Loaded)
	require.Equal(t, "handle", e.Handle)

	require.NoError(t, r.SetUnloaded("a"))
	e, _ = r.Get("a")
	require.False(t, e.Loaded)
	require.Nil(t, e.Handle)
}

func TestSetLoadedNotFound(t *testing.T) {
	r := registry.New()
	err := r.SetLoaded("missing", nil)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindNotFound))
}

func TestFindByCapabilityExactMatch(t *testing.T) {
	r := registry.New()
	a := m("a")
	a.Capabilities = manifest.CapHTTPHandlers
	b := m("b")
	b.Capabilities = manifest.CapHTTPHandlers | manifest.CapScheduler
	require.NoError(t, r.Register(a, "/a.so"))
	require.NoError(t, r.Register(b, "/b.so"))

	require.Equal(t, []string{"a"}, r.FindByCapability(manifest.CapHTTPHandlers))
	require.Equal(t, []string{"b"}, r.FindByCapability(manifest.CapHTTPHandlers|manifest.CapScheduler))
}

func TestAllIDsSorted(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Register(m("zeta"), "/z.so"))
	require.NoError(t, r.Register(m("alpha"), "/a.so"))
	require.Equal(t, []string{"alpha", "zeta"}, r.AllIDs())
}

func TestDiscoverCountsMatchingExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, dynlib.ArtifactFileName("foo")), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte{}, 0o644))

	r := registry.New()
	count, err := r.Discover(dir)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCheckCompatibility(t *testing.T) {
	r := registry.New()
	mm := m("a")
	mm.ZigVersionMin = "1.0.0"
	mm.ZigVersionMax = "2.0.0"
	require.NoError(t, r.Register(mm, "/a.so"))

	ok, err := r.CheckCompatibility("a", semver.MustParse("1.5.0"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.CheckCompatibility("a", semver.MustParse("3.0.0"))
	require.NoError(t, err)
	require.False(t, ok)
}
