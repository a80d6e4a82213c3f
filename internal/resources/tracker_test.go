package resources_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goatkit/pluginhost/internal/pluginerrors"
	"github.com/goatkit/pluginhost/internal/resources"
)

// Scenario 6 from spec.md §8: tracker cap.
func TestAllocateCap(t *testing.T) {
	tr := resources.New("p", 1<<20, 100, 10) // 1 MiB cap

	require.NoError(t, tr.Allocate(512<<10))

	err := tr.Allocate(1 << 20)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindMemoryLimitExceeded))
	require.EqualValues(t, 512<<10, tr.Stats().MemoryUsed)
}

func TestSetLimitsTakesEffectImmediately(t *testing.T) {
	tr := resources.New("p", 100, 10, 10)
	require.NoError(t, tr.Allocate(100))

	err := tr.Allocate(1)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindMemoryLimitExceeded))

	tr.SetLimits(200, 10, 10)
	require.NoError(t, tr.Allocate(100))
	require.EqualValues(t, 200, tr.Stats().MemoryUsed)
	require.EqualValues(t, 200, tr.Stats().MaxMemory)

	tr.SetLimits(50, 10, 10)
	err = tr.Allocate(1)
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindMemoryLimitExceeded))
}

func TestAllocateDeallocate(t *testing.T) {
	tr := resources.New("p", 100, 10, 10)
	require.NoError(t, tr.Allocate(50))
	tr.Deallocate(50)
	require.EqualValues(t, 0, tr.Stats().MemoryUsed)
	require.NoError(t, tr.Allocate(100))
}

func TestFileHandleAndThreadLimits(t *testing.T) {
	tr := resources.New("p", 1024, 1, 1)
	require.NoError(t, tr.OpenFileHandle())
	err := tr.OpenFileHandle()
	require.Error(t, err)
	require.True(t, pluginerrors.Is(err, pluginerrors.KindOutOfMemory))
	tr.CloseFileHandle()
	require.NoError(t, tr.OpenFileHandle())

	require.NoError(t, tr.StartThread())
	err = tr.StartThread()
	require.Error(t, err)
	tr.StopThread()
	require.NoError(t, tr.StartThread())
}

func TestReset(t *testing.T) {
	tr := resources.New("p", 1024, 10, 10)
	require.NoError(t, tr.Allocate(100))
	require.NoError(t, tr.OpenFileHandle())
	require.NoError(t, tr.StartThread())

	tr.Reset()

	stats := tr.Stats()
	require.Zero(t, stats.MemoryUsed)
	require.Zero(t, stats.FileHandles)
	require.Zero(t, stats.Threads)
}

// Concurrent allocate(k) property from spec.md §8: the number of
// successful calls is maximized such that their sum stays <= cap, and
// memory_used never exceeds cap at any observable point.
func TestConcurrentAllocateRespectsCapacity(t *testing.T) {
	const capBytes = 1000
	const chunk = 10
	const attempts = 500 // 5000 requested against a 1000 cap

	tr := resources.New("p", capBytes, 1000, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Allocate(chunk); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, tr.Stats().MemoryUsed, uint64(capBytes))
	require.Equal(t, capBytes/chunk, successes)
}
