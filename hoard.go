// Package hoard implements a thread-aware, general-purpose heap allocator
// in the style of Hoard: CPU-local heaps plus a shared global heap,
// partitioned into fullness-sorted superblocks per size class, with
// under-utilized superblocks reclaimed back into the global heap to bound
// blowup under multithreaded allocation.
//
// It exposes the four classic C allocator entry points -- Allocate,
// Release, ZeroAllocate, Reallocate -- over manually managed,
// page-source-backed memory, for callers that need to hand out raw
// unsafe.Pointer regions themselves. Go programs with no such need should
// keep using make/new: this package does not replace Go's own allocator.
package hoard

import (
	"log"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/scalealloc/hoard/internal/heap"
	"github.com/scalealloc/hoard/internal/pagesource"
	"github.com/scalealloc/hoard/internal/threadid"
)

var (
	defaultOnce sync.Once
	defaultHeap *heap.Allocator
)

// defaultAllocator lazily builds the process-wide allocator exactly once.
// sync.Once is the guaranteed once-only mechanism spec.md §9 asks for, in
// place of the original implementation's racy check-then-set
// isInitialized flag. A heap.ErrLockInit failure means the allocator
// cannot function at all, so it is fatal (spec.md §7), the same way the
// teacher's own full_test.go treats a failed allocator construction as
// unrecoverable with log.Fatalln.
func defaultAllocator() *heap.Allocator {
	defaultOnce.Do(func() {
		a, err := heap.New(pagesource.New(), threadid.New(), slog.Default())
		if err != nil {
			log.Fatal(err)
		}
		defaultHeap = a
	})
	return defaultHeap
}

// Allocate returns a pointer to a newly allocated region of at least size
// bytes, or nil if the page source cannot satisfy the request.
func Allocate(size int) unsafe.Pointer {
	ptr, err := defaultAllocator().Allocate(size)
	if err != nil {
		return nil
	}
	return ptr
}

// Release returns ptr, previously obtained from Allocate, ZeroAllocate, or
// Reallocate, to the allocator. Release(nil) is a no-op. Releasing a
// pointer not obtained from this package, or releasing the same pointer
// twice, is undefined behavior that this package does not detect (spec.md
// §7) -- except for the narrow case of a pointer whose header names an
// superblock id this allocator never issued, which is logged rather than
// acted on.
func Release(ptr unsafe.Pointer) {
	if err := defaultAllocator().Free(ptr); err != nil {
		slog.Default().Error("hoard: release failed", slog.Any("error", err))
	}
}

// ZeroAllocate returns a pointer to a newly allocated region of at least
// count*size bytes, with the first count*size bytes set to zero, or nil on
// overflow or page source exhaustion.
func ZeroAllocate(count, size int) unsafe.Pointer {
	ptr, err := defaultAllocator().ZeroAllocate(count, size)
	if err != nil {
		return nil
	}
	return ptr
}

// Reallocate resizes the block at ptr to size bytes, copying the lesser of
// the old and new sizes, and returns the new pointer; the old pointer must
// not be used again. Reallocate(nil, n) is equivalent to Allocate(n);
// Reallocate(ptr, 0) frees ptr and returns nil.
func Reallocate(ptr unsafe.Pointer, size int) unsafe.Pointer {
	newPtr, err := defaultAllocator().Reallocate(ptr, size)
	if err != nil {
		return nil
	}
	return newPtr
}
