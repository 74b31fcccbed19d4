// Package heap implements the heap/superblock machine: size-class sharded
// state, fullness-sorted superblock lists, the reclamation invariant that
// drains under-utilized superblocks into a shared global heap, and the
// lock discipline that lets CPU heaps allocate concurrently while
// superblocks migrate between them. See spec.md §§3-5.
package heap

const (
	// CPUS is the number of per-CPU heaps.
	CPUS = 2
	// GlobalHeapIndex is the index of the global heap within the heap
	// array; HEAPS = CPUS + 1 heaps exist in total.
	GlobalHeapIndex = CPUS
	// HEAPS is the total number of heaps, CPU heaps plus the global heap.
	HEAPS = CPUS + 1
	// CLASSES is the number of power-of-two size classes; class c holds
	// blocks of size 2^c bytes.
	CLASSES = 16
	// SBSize is the fixed byte size of every superblock.
	SBSize = 64 * 1024
	// LargeThreshold is the largest request serviced by a size class.
	// Anything bigger is serviced directly by the page source.
	LargeThreshold = SBSize / 2
	// EmptyFraction is F in spec.md's reclamation invariant: the allowed
	// empty fraction of a CPU heap's class before reclamation fires.
	EmptyFraction = 0.4
	// SlackSuperblocks is K in spec.md's reclamation invariant: slack, in
	// units of superblocks, granted before reclamation fires. Kept at 0,
	// but the invariant check in allocator.go preserves the two-conjunct
	// form so a future non-zero K remains meaningful (spec.md §9).
	SlackSuperblocks = 0

	// minClassIndex is the smallest usable size class (8-byte blocks).
	// ceil(log2(sz)) is ill-defined for sz <= 1, so requests of 0 or 1
	// byte clamp up to it (spec.md §9).
	minClassIndex = 3

	// superblockReserve is the number of bytes at the front of every
	// superblock's backing region left unused by block slots, standing in
	// for the in-memory superblock header the original design stamps
	// there (spec.md §3's total_count formula subtracts
	// sizeof(superblock header) for the same reason). In debug builds it
	// carries a corruption-detection stamp; see superblock.go.
	superblockReserve = 64
)
