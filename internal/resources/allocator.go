package resources

// TrackedAllocator wraps a parent allocation function with a Tracker so
// every alloc/resize/free made through it is charged against the
// plugin's budget. Allocations that bypass it are not tracked.
type TrackedAllocator struct {
	tracker *Tracker
	alloc   func(size uint64) ([]byte, error)
	free    func([]byte)
}

// NewTrackedAllocator builds a TrackedAllocator that charges every
// Alloc/Free against tracker, delegating the actual memory operations
// to alloc/free.
func NewTrackedAllocator(tracker *Tracker, alloc func(size uint64) ([]byte, error), free func([]byte)) *TrackedAllocator {
	return &TrackedAllocator{tracker: tracker, alloc: alloc, free: free}
}

// Alloc reserves size bytes against the tracker before delegating to
// the parent allocator. On parent failure the reservation is rolled back.
func (a *TrackedAllocator) Alloc(size uint64) ([]byte, error) {
	if err := a.tracker.Allocate(size); err != nil {
		return nil, err
	}
	buf, err := a.alloc(size)
	if err != nil {
		a.tracker.Deallocate(size)
		return nil, err
	}
	return buf, nil
}

// Resize grows or shrinks a previous allocation through a fresh
// Alloc+copy+Free: the full newSize is charged while the old buffer is
// still held, so the old and new sizes together must fit under the cap.
func (a *TrackedAllocator) Resize(buf []byte, newSize uint64) ([]byte, error) {
	oldSize := uint64(len(buf))
	next, err := a.Alloc(newSize)
	if err != nil {
		return nil, err
	}
	copy(next, buf)
	a.Free(buf, oldSize)
	return next, nil
}

// Free releases a previously-allocated buffer of size bytes, crediting
// the tracker before delegating to the parent free function.
func (a *TrackedAllocator) Free(buf []byte, size uint64) {
	a.tracker.Deallocate(size)
	if a.free != nil {
		a.free(buf)
	}
}
