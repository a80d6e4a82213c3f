// Package pluginmanager implements the central orchestrator from
// spec.md §4.6: discover -> verify -> load -> init -> start -> stop ->
// unload, owning dynamic-library handles and per-plugin resource
// trackers behind a single coarse lock. Grounded on
// internal/plugin/manager.go's map-of-registered-plugins shape, with
// the "release the lock before calling into plugin code" discipline
// spec.md §5 mandates layered on top.
package pluginmanager

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goatkit/pluginhost/internal/dynlib"
	"github.com/goatkit/pluginhost/internal/eventbus"
	"github.com/goatkit/pluginhost/internal/manifest"
	"github.com/goatkit/pluginhost/internal/pluginerrors"
	"github.com/goatkit/pluginhost/internal/policy"
	"github.com/goatkit/pluginhost/internal/registry"
	"github.com/goatkit/pluginhost/internal/resolver"
	"github.com/goatkit/pluginhost/internal/resources"
	"github.com/goatkit/pluginhost/internal/verifier"
	"github.com/goatkit/pluginhost/pkg/pluginabi"
)

var (
	loadedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pluginhost",
		Subsystem: "manager",
		Name:      "loaded_plugins",
		Help:      "Number of plugins currently present in the manager's map.",
	})

	lifecycleCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginhost",
		Subsystem: "manager",
		Name:      "lifecycle_transitions_total",
		Help:      "Lifecycle operations, by operation and outcome.",
	}, []string{"op", "outcome"})
)

const (
	defaultMaxFileHandles = 100
	defaultMaxThreads     = 10
	defaultLogCapacity    = 200
)

// LoadedPlugin is the manager's exclusive-owned record for one loaded
// plugin: its library handle, resolved symbol table, resource tracker,
// and current lifecycle state.
type LoadedPlugin struct {
	Name         string
	Path         string
	State        State
	Info         *pluginabi.Info
	Manifest     *manifest.Manifest
	Capabilities manifest.Capabilities
	Table        pluginabi.Table
	Handle       pluginabi.Handle
	InstanceID   uuid.UUID
	Library      dynlib.Library
	Tracker      *resources.Tracker
	Logs         *LogBuffer
	LoadedAt     time.Time
	LastError    error
}

// snapshot returns a shallow copy safe to hand to callers outside the lock.
func (p *LoadedPlugin) snapshot() *LoadedPlugin {
	cp := *p
	return &cp
}

// Manager orchestrates the plugin lifecycle described in spec.md §4.6.
// It owns the id -> LoadedPlugin map, the plugin directory, a security
// policy, and references to the verifier, registry, event bus, and
// dependency resolver it coordinates.
type Manager struct {
	mu      sync.Mutex
	plugins map[string]*LoadedPlugin
	order   []string // insertion order, for forced teardown

	dir    string
	policy policy.SecurityPolicy

	verifier *verifier.Verifier
	reg      *registry.Registry
	bus      *eventbus.Bus
	resolver *resolver.Resolver

	opener dynlib.Opener
	logger *slog.Logger

	onLoaded   func(name string)
	onUnloaded func(name string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithPluginDir sets the directory load_all_from_directory and load
// scan for artifacts.
func WithPluginDir(dir string) Option {
	return func(m *Manager) { m.dir = dir }
}

// WithPolicy sets the SecurityPolicy new loads are verified against.
func WithPolicy(p policy.SecurityPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithOpener overrides the dynlib.Opener used to open artifacts. Tests
// inject a dynlibtest.Registry.Opener() here.
func WithOpener(o dynlib.Opener) Option {
	return func(m *Manager) { m.opener = o }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithNotifiers registers on-load / on-unload callbacks, invoked with
// the manager lock released.
func WithNotifiers(onLoaded, onUnloaded func(name string)) Option {
	return func(m *Manager) {
		m.onLoaded = onLoaded
		m.onUnloaded = onUnloaded
	}
}

// New constructs a Manager bound to the given collaborators.
func New(reg *registry.Registry, v *verifier.Verifier, bus *eventbus.Bus, rslv *resolver.Resolver, opts ...Option) *Manager {
	m := &Manager{
		plugins:  make(map[string]*LoadedPlugin),
		policy:   policy.Default(),
		reg:      reg,
		verifier: v,
		bus:      bus,
		resolver: rslv,
		opener:   dynlib.Open,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) artifactPath(name string) string {
	return filepath.Join(m.dir, dynlib.ArtifactFileName(name))
}

// Load implements spec.md §4.6's load(name, manifest?).
func (m *Manager) Load(name string, mf *manifest.Manifest) error {
	m.mu.Lock()
	if _, exists := m.plugins[name]; exists {
		m.mu.Unlock()
		lifecycleCounter.WithLabelValues("load", "already_loaded").Inc()
		return pluginerrors.New(pluginerrors.KindAlreadyLoaded, name)
	}
	m.mu.Unlock()

	path := m.artifactPath(name)
	if _, err := os.Stat(path); err != nil {
		lifecycleCounter.WithLabelValues("load", "not_found").Inc()
		return pluginerrors.Wrap(pluginerrors.KindPluginNotFound, name, err)
	}

	if mf != nil {
		if err := mf.Validate(pluginabi.PluginAPIVersion); err != nil {
			lifecycleCounter.WithLabelValues("load", "invalid_manifest").Inc()
			return err
		}
		if err := m.resolver.CheckDependencies(mf); err != nil {
			lifecycleCounter.WithLabelValues("load", "dependency_failure").Inc()
			return err
		}
		if err := m.verifier.VerifyAll(path, mf, m.policy); err != nil {
			lifecycleCounter.WithLabelValues("load", "verify_failure").Inc()
			return err
		}
	}

	lib, err := m.opener(path)
	if err != nil {
		m.logger.Error("dylib open failed", "plugin", name, "path", path, "err", err)
		lifecycleCounter.WithLabelValues("load", "dylib_open_failed").Inc()
		return pluginerrors.Wrap(pluginerrors.KindLoadFailed, name, err)
	}

	table, err := resolveSymbols(lib)
	if err != nil {
		lib.Close()
		lifecycleCounter.WithLabelValues("load", "missing_symbol").Inc()
		return pluginerrors.Wrap(pluginerrors.KindMissingSymbol, name, err)
	}

	info := table.GetInfo()
	caps, err := manifest.Decode(table.GetCapabilities())
	if err != nil {
		lib.Close()
		lifecycleCounter.WithLabelValues("load", "invalid_capabilities").Inc()
		return pluginerrors.Wrap(pluginerrors.KindLoadFailed, name, err)
	}

	maxMemMB := m.policy.MaxPluginMemoryMB
	if mf != nil && mf.MaxMemoryMB != nil {
		maxMemMB = *mf.MaxMemoryMB
	}
	tracker := resources.New(name, uint64(maxMemMB)*1024*1024, defaultMaxFileHandles, defaultMaxThreads)

	plugin := &LoadedPlugin{
		Name:         name,
		Path:         path,
		State:        StateLoaded,
		Info:         info,
		Manifest:     mf,
		Capabilities: caps,
		Table:        table,
		InstanceID:   uuid.New(),
		Library:      lib,
		Tracker:      tracker,
		Logs:         NewLogBuffer(defaultLogCapacity),
		LoadedAt:     time.Now(),
	}
	plugin.Logs.Add("info", "loaded")

	m.mu.Lock()
	m.plugins[name] = plugin
	m.order = append(m.order, name)
	loadedGauge.Set(float64(len(m.plugins)))
	m.mu.Unlock()

	if mf != nil {
		if _, err := m.reg.Get(mf.ID); err == nil {
			_ = m.reg.SetLoaded(mf.ID, lib)
		}
	}

	lifecycleCounter.WithLabelValues("load", "ok").Inc()
	m.logger.Info("plugin loaded", "plugin", name, "capabilities", caps)
	if m.onLoaded != nil {
		m.onLoaded(name)
	}
	return nil
}

// resolveSymbols looks up the fixed symbol set from spec.md §6. Start
// and Stop are optional; the rest are required.
//
// A real plugin built with `go build -buildmode=plugin` exports plain
// functions; plugin.Lookup hands them back boxed with their unnamed
// signature (e.g. func() *pluginabi.Info), not the named pluginabi.*Func
// type. Asserting against the named type would fail for every real
// plugin, so the assertion below is against the unnamed signature; the
// result is converted to the named type only after the assertion
// succeeds, purely for Table's field types.
func resolveSymbols(lib dynlib.Library) (pluginabi.Table, error) {
	var t pluginabi.Table

	getInfo, err := lib.Lookup(pluginabi.SymbolGetInfo)
	if err != nil {
		return t, err
	}
	fn, ok := getInfo.(func() *pluginabi.Info)
	if !ok {
		return t, fmt.Errorf("symbol %s has unexpected type", pluginabi.SymbolGetInfo)
	}
	t.GetInfo = fn

	getCaps, err := lib.Lookup(pluginabi.SymbolGetCapabilities)
	if err != nil {
		return t, err
	}
	capsFn, ok := getCaps.(func() uint32)
	if !ok {
		return t, fmt.Errorf("symbol %s has unexpected type", pluginabi.SymbolGetCapabilities)
	}
	t.GetCapabilities = capsFn

	initSym, err := lib.Lookup(pluginabi.SymbolInit)
	if err != nil {
		return t, err
	}
	initFn, ok := initSym.(func() pluginabi.Handle)
	if !ok {
		return t, fmt.Errorf("symbol %s has unexpected type", pluginabi.SymbolInit)
	}
	t.Init = initFn

	deinitSym, err := lib.Lookup(pluginabi.SymbolDeinit)
	if err != nil {
		return t, err
	}
	deinitFn, ok := deinitSym.(func(pluginabi.Handle))
	if !ok {
		return t, fmt.Errorf("symbol %s has unexpected type", pluginabi.SymbolDeinit)
	}
	t.Deinit = deinitFn

	if startSym, err := lib.Lookup(pluginabi.SymbolStart); err == nil {
		if fn, ok := startSym.(func(pluginabi.Handle) bool); ok {
			t.Start = fn
		}
	}
	if stopSym, err := lib.Lookup(pluginabi.SymbolStop); err == nil {
		if fn, ok := stopSym.(func(pluginabi.Handle) bool); ok {
			t.Stop = fn
		}
	}

	return t, nil
}

// Init implements spec.md §4.6's init(name).
func (m *Manager) Init(name string) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	if p.State != StateLoaded {
		m.mu.Unlock()
		return pluginerrors.New(pluginerrors.KindInvalidHandle, name)
	}
	initFn := p.Table.Init
	m.mu.Unlock()

	handle := initFn()

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok = m.plugins[name]
	if !ok {
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	if handle == nil {
		p.State = StateError
		p.LastError = pluginerrors.New(pluginerrors.KindInitFailed, name)
		p.Logs.Add("error", "init returned nil handle")
		lifecycleCounter.WithLabelValues("init", "failed").Inc()
		return p.LastError
	}
	p.Handle = handle
	p.State = StateInitialized
	p.Logs.Add("info", "initialized")
	lifecycleCounter.WithLabelValues("init", "ok").Inc()
	return nil
}

// Start implements spec.md §4.6's start(name).
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	if p.State != StateInitialized && p.State != StateStopped {
		m.mu.Unlock()
		return pluginerrors.New(pluginerrors.KindInvalidHandle, name)
	}
	startFn := p.Table.Start
	handle := p.Handle
	m.mu.Unlock()

	var ok2 bool
	if startFn != nil {
		ok2 = startFn(handle)
	} else {
		ok2 = true // no start symbol exported: treated as always-ready
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok = m.plugins[name]
	if !ok {
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	if !ok2 {
		p.State = StateError
		p.LastError = pluginerrors.New(pluginerrors.KindStartFailed, name)
		p.Logs.Add("error", "start returned false")
		lifecycleCounter.WithLabelValues("start", "failed").Inc()
		return p.LastError
	}
	p.State = StateRunning
	p.Logs.Add("info", "started")
	lifecycleCounter.WithLabelValues("start", "ok").Inc()
	return nil
}

// Stop implements spec.md §4.6's stop(name).
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	if p.State != StateRunning {
		m.mu.Unlock()
		return pluginerrors.New(pluginerrors.KindInvalidHandle, name)
	}
	stopFn := p.Table.Stop
	handle := p.Handle
	m.mu.Unlock()

	var ok2 bool
	if stopFn != nil {
		ok2 = stopFn(handle)
	} else {
		ok2 = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok = m.plugins[name]
	if !ok {
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	if !ok2 {
		p.State = StateError
		p.LastError = pluginerrors.New(pluginerrors.KindStopFailed, name)
		p.Logs.Add("error", "stop returned false")
		lifecycleCounter.WithLabelValues("stop", "failed").Inc()
		return p.LastError
	}
	p.State = StateStopped
	p.Logs.Add("info", "stopped")
	lifecycleCounter.WithLabelValues("stop", "ok").Inc()
	return nil
}

// Unload implements spec.md §4.6's unload(name). It is idempotent:
// once a name has been removed, subsequent calls return NotLoaded.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	delete(m.plugins, name)
	m.removeFromOrder(name)
	loadedGauge.Set(float64(len(m.plugins)))
	m.mu.Unlock()

	if p.State == StateRunning && p.Table.Stop != nil {
		if !p.Table.Stop(p.Handle) {
			m.logger.Warn("best-effort stop failed during unload", "plugin", name)
		}
	}
	if p.State == StateInitialized || p.State == StateRunning || p.State == StateStopped {
		p.Table.Deinit(p.Handle)
	}
	if err := p.Library.Close(); err != nil {
		m.logger.Warn("library close failed during unload", "plugin", name, "err", err)
	}

	unsubID := name
	if p.Manifest != nil {
		unsubID = p.Manifest.ID
	}
	m.bus.UnsubscribeAll(unsubID)
	p.Tracker.Reset()

	if p.Manifest != nil {
		if _, err := m.reg.Get(p.Manifest.ID); err == nil {
			_ = m.reg.SetUnloaded(p.Manifest.ID)
		}
	}

	lifecycleCounter.WithLabelValues("unload", "ok").Inc()
	m.logger.Info("plugin unloaded", "plugin", name)
	if m.onUnloaded != nil {
		m.onUnloaded(name)
	}
	return nil
}

// removeFromOrder must be called with m.mu held.
func (m *Manager) removeFromOrder(name string) {
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Reload implements spec.md §4.6's reload(name): unload followed by
// load with the pre-unload manifest, so the reloaded instance
// re-verifies against the identical declaration.
func (m *Manager) Reload(name string) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	preserved := p.Manifest
	m.mu.Unlock()

	if err := m.Unload(name); err != nil {
		return err
	}
	return m.Load(name, preserved)
}

// LoadAllFromDirectory enumerates the plugin directory and loads every
// matching artifact without an associated manifest, counting successes
// and logging failures without stopping the scan.
func (m *Manager) LoadAllFromDirectory() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() || !dynlib.HasArtifactExtension(e.Name()) {
			continue
		}
		name, ok := dynlib.NameFromArtifact(e.Name())
		if !ok {
			continue
		}
		if err := m.Load(name, nil); err != nil {
			m.logger.Warn("load_all_from_directory: load failed", "plugin", name, "err", err)
			continue
		}
		count++
	}
	return count, nil
}

// PluginsByCapability returns the names of currently-loaded plugins
// whose capability bitmap includes flag.
func (m *Manager) PluginsByCapability(flag manifest.Capabilities) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, name := range m.order {
		if m.plugins[name].Capabilities.Has(flag) {
			out = append(out, name)
		}
	}
	return out
}

// SetResourceLimits rebinds a loaded plugin's resource caps in place,
// grounded on the teacher's SandboxedHostAPI.UpdatePolicy: the change
// takes effect immediately for subsequent allocate/open/start calls,
// with no unload/reload and no disruption to the plugin's current
// usage.
func (m *Manager) SetResourceLimits(name string, maxMemoryMB uint32, maxFileHandles, maxThreads uint32) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	m.mu.Unlock()
	if !ok {
		return pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	p.Tracker.SetLimits(uint64(maxMemoryMB)*1024*1024, maxFileHandles, maxThreads)
	p.Logs.Add("info", "resource limits updated")
	m.logger.Info("resource limits updated", "plugin", name,
		"max_memory_mb", maxMemoryMB, "max_file_handles", maxFileHandles, "max_threads", maxThreads)
	return nil
}

// RecentLogs returns up to n of the most recent lifecycle log entries
// for a loaded plugin, newest first.
func (m *Manager) RecentLogs(name string, n int) ([]LogEntry, error) {
	m.mu.Lock()
	p, ok := m.plugins[name]
	m.mu.Unlock()
	if !ok {
		return nil, pluginerrors.New(pluginerrors.KindNotLoaded, name)
	}
	return p.Logs.Recent(n), nil
}

// Get returns a snapshot of the loaded plugin record for name.
func (m *Manager) Get(name string) (*LoadedPlugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[name]
	if !ok {
		return nil, false
	}
	return p.snapshot(), true
}

// Close forcibly unloads every plugin in insertion order, the manager's
// teardown/cancellation path from spec.md §5. Lifecycle failures during
// forced teardown are logged and ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	m.mu.Unlock()

	for _, name := range names {
		if err := m.Unload(name); err != nil {
			m.logger.Warn("forced teardown: unload failed", "plugin", name, "err", err)
		}
	}
}
