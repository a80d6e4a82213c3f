package pluginmanager_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/dynlib"
	"github.com/goatkit/pluginhost/internal/dynlib/dynlibtest"
	"github.com/goatkit/pluginhost/internal/eventbus"
	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginerrors"
	"github.com/goatkit/pluginhost/internal/pluginmanager"
	"github.com/goatkit/pluginhost/internal/policy"
	"github.com/goatkit/pluginhost/internal/registry"
	"github.com/goatkit/pluginhost/internal/resolver"
	"github.com/goatkit/pluginhost/internal/verifier"
	"github.com/goatkit/pluginhost/pkg/pluginabi"
)

func touchArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, dynlib.ArtifactFileName(name))
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))
	return path
}

// fullSymbolTable mirrors what a real `-buildmode=plugin` artifact
// hands back from plugin.Lookup: plain functions with the ABI's
// unnamed signature, not the named pluginabi.*Func types. Using the
// named types here would let resolveSymbols's type assertion pass
// against a fake that no real plugin could ever produce.
func fullSymbolTable(ok bool) map[string]any {
	return map[string]any{
		pluginabi.SymbolGetInfo: func() *pluginabi.Info {
			return &pluginabi.Info{Name: "demo", Version: "1.0.0", APIVersion: pluginabi.PluginAPIVersion}
		},
		pluginabi.SymbolGetCapabilities: func() uint32 {
			return uint32(manifest.CapHTTPHandlers)
		},
		pluginabi.SymbolInit: func() pluginabi.Handle {
			if !ok {
				return nil
			}
			return "handle"
		},
		pluginabi.SymbolDeinit: func(pluginabi.Handle) {},
		pluginabi.SymbolStart: func(pluginabi.Handle) bool {
			return ok
		},
		pluginabi.SymbolStop: func(pluginabi.Handle) bool {
			return ok
		},
	}
}

func newTestManager(t *testing.T, dir string, or *dynlibtest.Registry) *pluginmanager.Manager {
	t.Helper()
	reg := registry.New()
	v := verifier.New()
	bus := eventbus.New()
	rslv := resolver.New(reg)
	return pluginmanager.New(reg, v, bus, rslv,
		pluginmanager.WithPluginDir(dir),
		pluginmanager.WithPolicy(policy.Permissive()),
		pluginmanager.WithOpener(or.Opener()),
	)
}

func TestFullLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := touchArtifact(t, dir, "demo")

	or := dynlibtest.NewRegistry()
	fake := &dynlibtest.Fake{Symbols: fullSymbolTable(true)}
	or.Put(path, fake)

	mgr := newTestManager(t, dir, or)

	require.NoError(t, mgr.Load("demo", nil))
	require.NoError(t, mgr.Init("demo"))
	require.NoError(t, mgr.Start("demo"))

	p, ok := mgr.Get("demo")
	require.True(t, ok)
	require.Equal(t, pluginmanager.StateRunning, p.State)
	require.True(t, p.Capabilities.Has(manifest.CapHTTPHandlers))

	require.NoError(t, mgr.Stop("demo"))
	p, _ = mgr.Get("demo")
	require.Equal(t, pluginmanager.StateStopped, p.State)

	require.NoError(t, mgr.Unload("demo"))
	_, ok = mgr.Get("demo")
	require.False(t, ok)
	require.True(t, fake.Closed())

	// idempotent unload
	err := mgr.Unload("demo")
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindNotLoaded))
}

func TestLoadAlreadyLoaded(t *testing.T) {
	dir := t.TempDir()
	path := touchArtifact(t, dir, "demo")
	or := dynlibtest.NewRegistry()
	or.Put(path, &dynlibtest.Fake{Symbols: fullSymbolTable(true)})
	mgr := newTestManager(t, dir, or)

	require.NoError(t, mgr.Load("demo", nil))
	err := mgr.Load("demo", nil)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindAlreadyLoaded))
}

func TestLoadPluginNotFound(t *testing.T) {
	dir := t.TempDir()
	or := dynlibtest.NewRegistry()
	mgr := newTestManager(t, dir, or)

	err := mgr.Load("ghost", nil)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindPluginNotFound))
}

func TestLoadMissingSymbol(t *testing.T) {
	dir := t.TempDir()
	path := touchArtifact(t, dir, "demo")
	or := dynlibtest.NewRegistry()
	incomplete := map[string]any{
		pluginabi.SymbolGetInfo: func() *pluginabi.Info { return &pluginabi.Info{} },
	}
	fake := &dynlibtest.Fake{Symbols: incomplete}
	or.Put(path, fake)
	mgr := newTestManager(t, dir, or)

	err := mgr.Load("demo", nil)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindMissingSymbol))
	require.True(t, fake.Closed())
}

func TestInitFailureSetsErrorState(t *testing.T) {
	dir := t.TempDir()
	path := touchArtifact(t, dir, "demo")
	or := dynlibtest.NewRegistry()
	or.Put(path, &dynlibtest.Fake{Symbols: fullSymbolTable(false)})
	mgr := newTestManager(t, dir, or)

	require.NoError(t, mgr.Load("demo", nil))
	err := mgr.Init("demo")
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindInitFailed))

	p, ok := mgr.Get("demo")
	require.True(t, ok)
	require.Equal(t, pluginmanager.StateError, p.State)
}

func TestReloadPreservesManifestIdentity(t *testing.T) {
	dir := t.TempDir()
	path := touchArtifact(t, dir, "demo")
	or := dynlibtest.NewRegistry()
	or.Put(path, &dynlibtest.Fake{Symbols: fullSymbolTable(true)})
	mgr := newTestManager(t, dir, or)

	mf := &manifest.Manifest{ID: "demo.plugin", Name: "demo", Version: "1.0.0", APIVersion: pluginabi.PluginAPIVersion}
	require.NoError(t, mgr.Load("demo", mf))

	// reopening the artifact on reload requires a fresh fake, since
	// unload closes the one currently registered for path.
	or.Put(path, &dynlibtest.Fake{Symbols: fullSymbolTable(true)})

	require.NoError(t, mgr.Reload("demo"))

	p, ok := mgr.Get("demo")
	require.True(t, ok)
	require.Equal(t, mf, p.Manifest)
}

func TestLoadAllFromDirectoryCountsSuccessesAndSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	goodPath := touchArtifact(t, dir, "good")
	touchArtifact(t, dir, "bad")

	or := dynlibtest.NewRegistry()
	or.Put(goodPath, &dynlibtest.Fake{Symbols: fullSymbolTable(true)})
	// "bad"'s artifact has no fake registered, so opening it fails.
	mgr := newTestManager(t, dir, or)

	count, err := mgr.LoadAllFromDirectory()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, ok := mgr.Get("good")
	require.True(t, ok)
	_, ok = mgr.Get("bad")
	require.False(t, ok)
}

func TestPluginsByCapability(t *testing.T) {
	dir := t.TempDir()
	path := touchArtifact(t, dir, "demo")
	or := dynlibtest.NewRegistry()
	or.Put(path, &dynlibtest.Fake{Symbols: fullSymbolTable(true)})
	mgr := newTestManager(t, dir, or)

	require.NoError(t, mgr.Load("demo", nil))
	require.Equal(t, []string{"demo"}, mgr.PluginsByCapability(manifest.CapHTTPHandlers))
	require.Empty(t, mgr.PluginsByCapability(manifest.CapWebsocket))
}

func TestSetResourceLimitsTakesEffectWithoutReload(t *testing.T) {
	dir := t.TempDir()
	path := touchArtifact(t, dir, "demo")
	or := dynlibtest.NewRegistry()
	or.Put(path, &dynlibtest.Fake{Symbols: fullSymbolTable(true)})
	mgr := newTestManager(t, dir, or)

	require.NoError(t, mgr.Load("demo", nil))

	require.NoError(t, mgr.SetResourceLimits("demo", 1, 5, 5))
	p, ok := mgr.Get("demo")
	require.True(t, ok)
	require.EqualValues(t, 1<<20, p.Tracker.Stats().MaxMemory)
	require.EqualValues(t, 5, p.Tracker.Stats().MaxFileHandles)
	require.EqualValues(t, 5, p.Tracker.Stats().MaxThreads)

	err := mgr.SetResourceLimits("ghost", 1, 5, 5)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindNotLoaded))
}

func TestRecentLogsReflectsLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := touchArtifact(t, dir, "demo")
	or := dynlibtest.NewRegistry()
	or.Put(path, &dynlibtest.Fake{Symbols: fullSymbolTable(true)})
	mgr := newTestManager(t, dir, or)

	require.NoError(t, mgr.Load("demo", nil))
	require.NoError(t, mgr.Init("demo"))
	require.NoError(t, mgr.Start("demo"))

	logs, err := mgr.RecentLogs("demo", 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(logs), 3)
	require.Equal(t, "started", logs[0].Message)
	require.Equal(t, "initialized", logs[1].Message)
	require.Equal(t, "loaded", logs[2].Message)

	_, err = mgr.RecentLogs("ghost", 10)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindNotLoaded))
}

func TestCloseForciblyUnloadsEverything(t *testing.T) {
	dir := t.TempDir()
	pathA := touchArtifact(t, dir, "a")
	pathB := touchArtifact(t, dir, "b")
	or := dynlibtest.NewRegistry()
	fakeA := &dynlibtest.Fake{Symbols: fullSymbolTable(true)}
	fakeB := &dynlibtest.Fake{Symbols: fullSymbolTable(true)}
	or.Put(pathA, fakeA)
	or.Put(pathB, fakeB)
	mgr := newTestManager(t, dir, or)

	require.NoError(t, mgr.Load("a", nil))
	require.NoError(t, mgr.Load("b", nil))

	mgr.Close()

	require.True(t, fakeA.Closed())
	require.True(t, fakeB.Closed())
	_, ok := mgr.Get("a")
	require.False(t, ok)
	_, ok = mgr.Get("b")
	require.False(t, ok)
}
