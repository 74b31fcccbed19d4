package heap

import "github.com/scalealloc/hoard/internal/memutils"

// heap is an array of size classes (spec.md §3). Heap GlobalHeapIndex is
// the global heap; the others are CPU heaps, indexed identically.
type heap struct {
	id      int
	classes [CLASSES]sizeClass
}

func newHeap(id int) *heap {
	h := &heap{id: id}
	for c := 0; c < CLASSES; c++ {
		h.classes[c].blockSize = 1 << c
	}
	return h
}

// classIndexFor computes c = ceil(log2(size)), clamped so that 2^c is at
// least the minimum enforceable block size and c < CLASSES (spec.md §4.6
// step 3, §9).
func classIndexFor(size int) int {
	c := memutils.Log2Ceil(size)
	if c < minClassIndex {
		c = minClassIndex
	}
	if c >= CLASSES {
		c = CLASSES - 1
	}
	return c
}

// cpuHeapIndex is the deterministic, cheap hash from spec.md §4.5: the low
// bits of the thread identity.
func cpuHeapIndex(threadID int) int {
	if threadID < 0 {
		threadID = -threadID
	}
	return threadID % CPUS
}
