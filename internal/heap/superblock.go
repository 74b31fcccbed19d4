package heap

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/scalealloc/hoard/internal/memutils"
	"github.com/scalealloc/hoard/internal/pagesource"
)

// superblock is a fixed SBSize region carved into blocks of one size
// class, holding a free list, a usage count, a lock, and back-pointers
// (spec.md §3). Its bookkeeping fields are ordinary garbage-collected Go
// state; only the block headers living inside the bytes base points at are
// manually managed.
type superblock struct {
	id         uint64
	base       unsafe.Pointer
	classIndex int
	blockSize  int
	stride     int
	totalCount int

	// mu is the handoff lock described in spec.md §5: held only across
	// the window in free() where the caller has resolved the owning
	// superblock but not yet the owning class, to keep a concurrent
	// migration from pulling the class out from under it.
	mu sync.Mutex

	usedCount    int
	freeListHead int64 // superblock-relative offset, or noOffset

	owningHeap *heap
	prev, next *superblock
}

var (
	nextSuperblockID atomic.Uint64

	registryMu sync.RWMutex
	registry   = make(map[uint64]*superblock)
)

func registerSuperblock(sb *superblock) {
	registryMu.Lock()
	registry[sb.id] = sb
	registryMu.Unlock()
}

func lookupSuperblock(id uint64) *superblock {
	registryMu.RLock()
	sb := registry[id]
	registryMu.RUnlock()
	return sb
}

// newSuperblock fetches SBSize bytes from src and initializes them to hold
// blocks for the given size class, per spec.md §4.3. It does not install
// the result into any heap's class list; the caller does that while
// holding the relevant class lock.
func newSuperblock(src pagesource.Source, classIndex int) (*superblock, error) {
	if err := memutils.CheckPow2(SBSize, "SBSize"); err != nil {
		return nil, err
	}

	base, err := src.Fetch(SBSize)
	if err != nil {
		return nil, err
	}

	blockSize := 1 << classIndex
	if err := memutils.CheckPow2(blockSize, "blockSize"); err != nil {
		return nil, errors.Wrapf(err, "heap: class %d", classIndex)
	}

	pointerAlignment := unsafe.Sizeof(uintptr(0))
	stride := memutils.AlignUp(headerSize+blockSize, pointerAlignment)
	totalCount := (SBSize - superblockReserve) / stride
	if totalCount < 1 {
		return nil, errors.Newf("heap: superblock too small for class %d (block size %d)", classIndex, blockSize)
	}

	sb := &superblock{
		id:           nextSuperblockID.Add(1),
		base:         base,
		classIndex:   classIndex,
		blockSize:    blockSize,
		stride:       stride,
		totalCount:   totalCount,
		freeListHead: noOffset,
	}
	memutils.WriteMagicValue(base, 0)
	sb.initFreeList()
	registerSuperblock(sb)
	return sb, nil
}

// slotOffset returns the superblock-relative byte offset of the i'th
// block's header.
func (sb *superblock) slotOffset(i int) int64 {
	return int64(superblockReserve + i*sb.stride)
}

func (sb *superblock) headerPtr(offset int64) unsafe.Pointer {
	return unsafe.Add(sb.base, offset)
}

func (sb *superblock) offsetOf(headerPtr unsafe.Pointer) int64 {
	return int64(uintptr(headerPtr) - uintptr(sb.base))
}

// initFreeList stamps every block's header and links them in address
// order, per spec.md §4.2: "a newly initialized superblock's free list
// contains all blocks in address order."
func (sb *superblock) initFreeList() {
	var tailOffset int64 = noOffset
	for i := sb.totalCount - 1; i >= 0; i-- {
		off := sb.slotOffset(i)
		h := headerAt(sb.headerPtr(off))
		h.blockSize = uint64(sb.blockSize)
		h.inUse = 0
		h.superblockID = sb.id
		h.nextOffset = tailOffset
		tailOffset = off
	}
	sb.freeListHead = tailOffset
}

// hasFree reports whether sb has at least one free block. Caller must hold
// the lock of whichever class currently lists sb.
func (sb *superblock) hasFree() bool {
	return sb.usedCount < sb.totalCount
}

// popFreeBlock removes and returns a pointer to the header of the head of
// sb's free list, or nil if the list is empty. Caller must hold the lock
// of whichever class currently lists sb.
func (sb *superblock) popFreeBlock() unsafe.Pointer {
	off := sb.freeListHead
	if off == noOffset {
		return nil
	}
	ptr := sb.headerPtr(off)
	h := headerAt(ptr)
	sb.freeListHead = h.nextOffset
	h.inUse = 1
	h.nextOffset = noOffset
	return ptr
}

// pushFreeBlock returns the block whose header is at headerPtr to sb's
// free list. Caller must hold the lock of whichever class currently lists
// sb.
func (sb *superblock) pushFreeBlock(headerPtr unsafe.Pointer) {
	h := headerAt(headerPtr)
	h.inUse = 0
	h.nextOffset = sb.freeListHead
	sb.freeListHead = sb.offsetOf(headerPtr)
}

// Validate checks spec.md §8 invariants 3 and 4 for sb: the free list's
// length matches totalCount-usedCount, and every block on it is marked
// free. Called from sizeClass.Validate for every listed superblock.
func (sb *superblock) Validate() error {
	if !memutils.ValidateMagicValue(sb.base, 0) {
		return errors.Newf("superblock %d: corruption stamp missing", sb.id)
	}
	if sb.usedCount < 0 || sb.usedCount > sb.totalCount {
		return errors.Newf("superblock %d: usedCount %d out of range [0,%d]", sb.id, sb.usedCount, sb.totalCount)
	}

	pointerAlignment := unsafe.Sizeof(uintptr(0))
	for i := 0; i < sb.totalCount; i++ {
		off := int(sb.slotOffset(i))
		if memutils.AlignDown(off, pointerAlignment) != off {
			return errors.Newf("superblock %d: block %d offset %d is not pointer-aligned", sb.id, i, off)
		}
	}

	seen := make(map[int64]bool)
	count := 0
	for off := sb.freeListHead; off != noOffset; {
		if seen[off] {
			return errors.Newf("superblock %d: cyclic free list", sb.id)
		}
		seen[off] = true
		h := headerAt(sb.headerPtr(off))
		if h.inUse != 0 {
			return errors.Newf("superblock %d: free-list block at offset %d marked in use", sb.id, off)
		}
		count++
		off = h.nextOffset
	}
	if want := sb.totalCount - sb.usedCount; count != want {
		return errors.Newf("superblock %d: free list length %d, want %d", sb.id, count, want)
	}
	return nil
}
