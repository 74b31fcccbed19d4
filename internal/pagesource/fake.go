package pagesource

import (
	"sync"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
)

// FakeSource is an in-process page source backed by ordinary Go byte
// slices. It lets tests exercise the heap package without mmap or root
// privileges, and lets them inject fetch failures to drive the
// out-of-memory path (spec.md §7).
type FakeSource struct {
	mu        sync.Mutex
	live      map[unsafe.Pointer][]byte
	fetchFail bool
}

// NewFakeSource returns an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{live: make(map[unsafe.Pointer][]byte)}
}

// FailNextFetch causes the next call to Fetch to return ErrFetchFailed,
// simulating page source exhaustion, then resumes normal operation.
func (f *FakeSource) FailNextFetch() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchFail = true
}

func (f *FakeSource) Fetch(n int) (unsafe.Pointer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchFail {
		f.fetchFail = false
		return nil, ErrFetchFailed
	}
	if n <= 0 {
		return nil, cerrors.Newf("pagesource: invalid fetch size %d", n)
	}

	b := make([]byte, n) // zero-filled by the Go runtime
	ptr := unsafe.Pointer(&b[0])
	f.live[ptr] = b
	return ptr, nil
}

func (f *FakeSource) Release(ptr unsafe.Pointer, n int) error {
	if ptr == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.live[ptr]
	if !ok {
		return cerrors.Newf("pagesource: release of untracked pointer")
	}
	if len(b) != n {
		return cerrors.Newf("pagesource: release length %d does not match fetch length %d", n, len(b))
	}
	delete(f.live, ptr)
	return nil
}

// LiveRegions reports how many fetched regions have not yet been released.
// Tests use it to assert that superblocks are never returned to the page
// source (spec.md §9's open question, resolved in DESIGN.md as "never").
func (f *FakeSource) LiveRegions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}
