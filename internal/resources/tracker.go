// Package resources implements the per-plugin ResourceTracker: atomic
// memory, file-handle, and thread counters enforced against caps, in
// the style of internal/plugin/sandbox.go's PluginStats accounting.
package resources

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goatkit/pluginhost/internal/pluginerrors"
)

var (
	memoryUsedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pluginhost",
		Subsystem: "resources",
		Name:      "memory_used_bytes",
		Help:      "Current tracked memory use per plugin.",
	}, []string{"plugin"})

	fileHandlesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pluginhost",
		Subsystem: "resources",
		Name:      "file_handles_open",
		Help:      "Current tracked open file handles per plugin.",
	}, []string{"plugin"})

	threadsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pluginhost",
		Subsystem: "resources",
		Name:      "threads_running",
		Help:      "Current tracked running threads per plugin.",
	}, []string{"plugin"})

	limitExceededCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pluginhost",
		Subsystem: "resources",
		Name:      "limit_exceeded_total",
		Help:      "Count of rejected allocate/open/start calls by resource kind.",
	}, []string{"plugin", "kind"})
)

// Stats is a point-in-time snapshot of a Tracker's counters. No
// cross-counter consistency is guaranteed; each field is read
// atomically but not as a single transaction.
type Stats struct {
	MemoryUsed     uint64
	MaxMemory      uint64
	FileHandles    uint32
	MaxFileHandles uint32
	Threads        uint32
	MaxThreads     uint32
}

// Tracker enforces per-plugin resource caps with monotonic atomic
// counters, per spec.md §4.4.
type Tracker struct {
	plugin string

	memoryUsed atomic.Uint64
	maxMemory  atomic.Uint64

	fileHandles    atomic.Uint32
	maxFileHandles atomic.Uint32

	threads    atomic.Uint32
	maxThreads atomic.Uint32

	resetMu sync.Mutex
}

// New constructs a Tracker for plugin scoped to the given caps.
func New(plugin string, maxMemory uint64, maxFileHandles, maxThreads uint32) *Tracker {
	t := &Tracker{plugin: plugin}
	t.maxMemory.Store(maxMemory)
	t.maxFileHandles.Store(maxFileHandles)
	t.maxThreads.Store(maxThreads)
	return t
}

// SetLimits rebinds the tracker's caps in place, taking effect
// immediately for every Allocate/OpenFileHandle/StartThread call that
// observes it afterward, without resetting the current counters. A
// cap lowered below the current usage simply blocks further growth
// until usage drops back under it.
func (t *Tracker) SetLimits(maxMemory uint64, maxFileHandles, maxThreads uint32) {
	t.maxMemory.Store(maxMemory)
	t.maxFileHandles.Store(maxFileHandles)
	t.maxThreads.Store(maxThreads)
}

// Allocate reserves size bytes, failing MemoryLimitExceeded and rolling
// back the speculative add if the cap would be exceeded.
func (t *Tracker) Allocate(size uint64) error {
	old := t.memoryUsed.Add(size) - size
	if old+size > t.maxMemory.Load() {
		t.Deallocate(size)
		limitExceededCounter.WithLabelValues(t.plugin, "memory").Inc()
		return pluginerrors.New(pluginerrors.KindMemoryLimitExceeded, t.plugin)
	}
	memoryUsedGauge.WithLabelValues(t.plugin).Set(float64(t.memoryUsed.Load()))
	return nil
}

// Deallocate releases size bytes previously reserved by Allocate.
// Callers must only deallocate sizes they successfully allocated.
func (t *Tracker) Deallocate(size uint64) {
	t.memoryUsed.Add(^(size - 1)) // atomic subtract
	memoryUsedGauge.WithLabelValues(t.plugin).Set(float64(t.memoryUsed.Load()))
}

// OpenFileHandle reserves one file handle slot.
func (t *Tracker) OpenFileHandle() error {
	old := t.fileHandles.Add(1) - 1
	if old+1 > t.maxFileHandles.Load() {
		t.fileHandles.Add(^uint32(0))
		limitExceededCounter.WithLabelValues(t.plugin, "file_handles").Inc()
		return pluginerrors.New(pluginerrors.KindOutOfMemory, t.plugin)
	}
	fileHandlesGauge.WithLabelValues(t.plugin).Set(float64(t.fileHandles.Load()))
	return nil
}

// CloseFileHandle releases one previously-opened file handle slot.
func (t *Tracker) CloseFileHandle() {
	t.fileHandles.Add(^uint32(0))
	fileHandlesGauge.WithLabelValues(t.plugin).Set(float64(t.fileHandles.Load()))
}

// StartThread reserves one thread slot.
func (t *Tracker) StartThread() error {
	old := t.threads.Add(1) - 1
	if old+1 > t.maxThreads.Load() {
		t.threads.Add(^uint32(0))
		limitExceededCounter.WithLabelValues(t.plugin, "threads").Inc()
		return pluginerrors.New(pluginerrors.KindOutOfMemory, t.plugin)
	}
	threadsGauge.WithLabelValues(t.plugin).Set(float64(t.threads.Load()))
	return nil
}

// StopThread releases one previously-started thread slot.
func (t *Tracker) StopThread() {
	t.threads.Add(^uint32(0))
	threadsGauge.WithLabelValues(t.plugin).Set(float64(t.threads.Load()))
}

// Stats returns an atomic-per-field snapshot of the tracker's counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		MemoryUsed:     t.memoryUsed.Load(),
		MaxMemory:      t.maxMemory.Load(),
		FileHandles:    t.fileHandles.Load(),
		MaxFileHandles: t.maxFileHandles.Load(),
		Threads:        t.threads.Load(),
		MaxThreads:     t.maxThreads.Load(),
	}
}

// Reset zeroes all counters. Used only during deinit. The auxiliary
// lock serializes concurrent Reset calls; Allocate/OpenFileHandle/
// StartThread do not take it, so a call running alongside Reset may
// observe some counters already zeroed and others not yet.
func (t *Tracker) Reset() {
	t.resetMu.Lock()
	defer t.resetMu.Unlock()
	t.memoryUsed.Store(0)
	t.fileHandles.Store(0)
	t.threads.Store(0)
	memoryUsedGauge.WithLabelValues(t.plugin).Set(0)
	fileHandlesGauge.WithLabelValues(t.plugin).Set(0)
	threadsGauge.WithLabelValues(t.plugin).Set(0)
}
