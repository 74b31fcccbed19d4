package heap

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// This file holds the six end-to-end scenarios from spec.md §8, each as its
// own named test, plus the Validate() assertions that double as invariant
// checks 5 and 6 for every scenario that leaves the allocator quiescent.

// Scenario 1: fresh malloc of 24 bytes on one thread.
func TestScenarioFreshSmallAllocation(t *testing.T) {
	a, _ := newTestAllocator(t, 0)

	classIndex := classIndexFor(24)
	require.Equal(t, 5, classIndex) // size 32

	ptr, err := a.Allocate(24)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	h := a.heaps[0]
	class := &h.classes[classIndex]
	require.Len(t, collectSuperblocks(class), 1)
	sb := class.head
	require.Equal(t, 1, sb.usedCount)
	require.Equal(t, 1, class.usedBlocks)
	require.Equal(t, sb.totalCount, class.totalBlocks)

	require.NoError(t, a.Validate())
}

// Scenario 2: two allocations then one free on the same thread, in a class
// whose superblock is nearly empty after the free, so the reclamation
// predicate fires and the superblock migrates to global.
func TestScenarioTwoAllocsOneFreeReclaims(t *testing.T) {
	a, _ := newTestAllocator(t, 0)

	classIndex := classIndexFor(24)
	p1, err := a.Allocate(24)
	require.NoError(t, err)
	p2, err := a.Allocate(24)
	require.NoError(t, err)

	h := a.heaps[0]
	class := &h.classes[classIndex]
	sb := class.head
	totalCount := sb.totalCount
	require.Greater(t, totalCount, 2, "test assumes a superblock much bigger than 2 blocks")

	require.NoError(t, a.Free(p2))

	// 1 used out of a large totalCount triggers reclamation: the
	// superblock should have migrated to the global heap, leaving the CPU
	// heap's class empty.
	require.Nil(t, class.head)
	require.Equal(t, 0, class.usedBlocks)
	require.Equal(t, 0, class.totalBlocks)

	global := a.globalHeap()
	globalClass := &global.classes[classIndex]
	require.NotNil(t, globalClass.head)
	require.Equal(t, 1, globalClass.head.usedCount)
	require.Equal(t, global, globalClass.head.owningHeap)

	require.NoError(t, a.Validate())

	require.NoError(t, a.Free(p1))
}

// Scenario 3: a large allocation bypasses size classes entirely.
func TestScenarioLargeAllocationBypassesClasses(t *testing.T) {
	a, src := newTestAllocator(t, 0)

	before := src.LiveRegions()
	ptr, err := a.Allocate(LargeThreshold + 1)
	require.NoError(t, err)
	require.Equal(t, before+1, src.LiveRegions())

	for c := 0; c < CLASSES; c++ {
		used, total := a.Stats(0, c)
		require.Zero(t, used)
		require.Zero(t, total)
	}

	require.NoError(t, a.Validate())

	require.NoError(t, a.Free(ptr))
	require.Equal(t, before, src.LiveRegions())
}

// Scenario 4: interleaved concurrent allocations across two threads mapping
// to different CPU heaps touch only their own heap's class locks.
func TestScenarioConcurrentAllocationsTouchOwnHeap(t *testing.T) {
	a, _ := newTestAllocator(t, 0, 1)

	p0, err := a.Allocate(24)
	require.NoError(t, err)
	p1, err := a.Allocate(24)
	require.NoError(t, err)

	require.NotEqual(t, p0, p1)

	classIndex := classIndexFor(24)
	used0, _ := a.Stats(0, classIndex)
	used1, _ := a.Stats(1, classIndex)
	require.Equal(t, 1, used0)
	require.Equal(t, 1, used1)

	require.NoError(t, a.Validate())
}

// Scenario 5: an alloc-free storm on one thread in one class that crosses
// the reclamation threshold repeatedly. After quiescence with u live
// blocks, the CPU heap's class must satisfy
// total_blocks <= ceil(u/(1-F)) + S.
func TestScenarioAllocFreeStormBoundsBlowup(t *testing.T) {
	a, _ := newTestAllocator(t, 0)

	classIndex := classIndexFor(24)

	const liveCount = 4
	live := make([]unsafe.Pointer, liveCount)
	for i := range live {
		ptr, err := a.Allocate(24)
		require.NoError(t, err)
		live[i] = ptr
	}

	// Repeatedly allocate a batch of throwaway blocks and free all of
	// them, leaving only the pinned live set. Each round pulls the live
	// set's superblock back from the global heap (or, in the first round,
	// keeps it in heap 0) to carve the batch from it, and the first free
	// of the batch crosses the reclamation threshold and sends that
	// superblock back to the global heap, over and over.
	const rounds = 20
	const batch = 64
	for r := 0; r < rounds; r++ {
		batchPtrs := make([]unsafe.Pointer, batch)
		for i := range batchPtrs {
			ptr, err := a.Allocate(24)
			require.NoError(t, err)
			batchPtrs[i] = ptr
		}
		for _, ptr := range batchPtrs {
			require.NoError(t, a.Free(ptr))
		}
	}

	require.NoError(t, a.Validate())

	h := a.heaps[0]
	class := &h.classes[classIndex]
	class.mu.Lock()
	usedBlocks := class.usedBlocks
	totalBlocks := class.totalBlocks
	var s int
	if class.tail != nil {
		s = class.tail.totalCount
	}
	class.mu.Unlock()

	// The live set's superblock ends the storm in the global heap, so the
	// pinned blocks are counted across heap 0 and the global heap.
	globalUsed, _ := a.Stats(GlobalHeapIndex, classIndex)
	require.Equal(t, liveCount, usedBlocks+globalUsed, "only the pinned live set should remain after quiescence")

	bound := int(math.Ceil(float64(usedBlocks)/(1-EmptyFraction))) + s
	require.LessOrEqual(t, totalBlocks, bound, "blowup must stay bounded after the storm quiesces")

	for _, ptr := range live {
		require.NoError(t, a.Free(ptr))
	}
}

// Scenario 6: calloc(1024, 8) zeroes the requested region.
func TestScenarioCallocZeroesRegion(t *testing.T) {
	a, _ := newTestAllocator(t, 0)

	ptr, err := a.Allocate(8192)
	require.NoError(t, err)
	for i := 0; i < 8192; i++ {
		writeByte(ptr, i, 0xFF)
	}
	require.NoError(t, a.Free(ptr))

	zeroed, err := a.ZeroAllocate(1024, 8)
	require.NoError(t, err)
	require.NotNil(t, zeroed)
	for i := 0; i < 8192; i++ {
		require.Zero(t, readByte(zeroed, i))
	}

	classIndex := classIndexFor(8192)
	used, _ := a.Stats(0, classIndex)
	require.GreaterOrEqual(t, used, 1)

	require.NoError(t, a.Validate())
}

// Invariant 5 and 6 also hold across the whole allocator, not just the
// scenario that happens to touch one class: a broader mixed workload
// exercises ownership and the reclamation bound across every CPU heap.
func TestInvariantsHoldAfterMixedWorkload(t *testing.T) {
	a, _ := newTestAllocator(t, 0, 1)

	var ptrs []unsafe.Pointer
	sizes := []int{8, 24, 100, 1000, LargeThreshold + 1}
	for round := 0; round < 8; round++ {
		for _, sz := range sizes {
			ptr, err := a.Allocate(sz)
			require.NoError(t, err)
			ptrs = append(ptrs, ptr)
		}
		require.NoError(t, a.Validate())
	}

	for i, ptr := range ptrs {
		if i%2 == 0 {
			require.NoError(t, a.Free(ptr))
		}
	}
	require.NoError(t, a.Validate())

	for i, ptr := range ptrs {
		if i%2 != 0 {
			require.NoError(t, a.Free(ptr))
		}
	}
	require.NoError(t, a.Validate())
}
