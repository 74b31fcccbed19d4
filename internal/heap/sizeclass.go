package heap

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// sizeClass is a bucket inside a heap for one power-of-two block size. Its
// superblock list is kept sorted non-increasing by usedCount, fullest at
// head, emptiest at tail (spec.md §3), so the tail is always the
// superblock the reclamation predicate migrates away.
type sizeClass struct {
	mu sync.Mutex

	blockSize   int
	usedBlocks  int
	totalBlocks int

	head, tail *superblock
}

// searchFreeBlock returns a block from the fullest superblock that still
// has free space, and that superblock, or (nil, nil) if none exists.
// Because the list is sorted non-increasing by usedCount, the first
// superblock with room is the one to use. Caller must hold c.mu.
func (c *sizeClass) searchFreeBlock() (unsafe.Pointer, *superblock) {
	if c.usedBlocks == c.totalBlocks {
		return nil, nil
	}
	for sb := c.head; sb != nil; sb = sb.next {
		if sb.hasFree() {
			return sb.popFreeBlock(), sb
		}
	}
	return nil, nil
}

// swapWithSuccessor exchanges sb with its immediate successor in the list,
// adjusting head/tail as needed. It is the single-swap primitive the
// bubble-sort restoration in bubbleUp/bubbleDown is built from
// (spec.md §4.4). Caller must hold c.mu.
func (c *sizeClass) swapWithSuccessor(sb *superblock) {
	next := sb.next
	if next == nil {
		return
	}
	prev := sb.prev

	if prev != nil {
		prev.next = next
	}
	if next.next != nil {
		next.next.prev = sb
	}

	sb.prev = next
	sb.next = next.next
	next.next = sb
	next.prev = prev

	if c.head == sb {
		c.head = next
	}
	if c.tail == next {
		c.tail = sb
	}
}

// bubbleUp restores sort order after sb.usedCount increased by one: swap
// sb toward the head while its predecessor is strictly less full. Ties do
// not move it (spec.md §4.4). Caller must hold c.mu.
func (c *sizeClass) bubbleUp(sb *superblock) {
	for sb.prev != nil && sb.usedCount > sb.prev.usedCount {
		c.swapWithSuccessor(sb.prev)
	}
}

// bubbleDown restores sort order after sb.usedCount decreased by one: swap
// sb toward the tail while its successor is strictly more full. Caller
// must hold c.mu.
func (c *sizeClass) bubbleDown(sb *superblock) {
	for sb.next != nil && sb.next.usedCount > sb.usedCount {
		c.swapWithSuccessor(sb)
	}
}

// pushTail appends sb to the end of the list, unsorted; callers bubble it
// into position afterward. Caller must hold c.mu.
func (c *sizeClass) pushTail(sb *superblock) {
	sb.prev = c.tail
	sb.next = nil
	if c.tail != nil {
		c.tail.next = sb
	} else {
		c.head = sb
	}
	c.tail = sb
}

// pushHead inserts sb at the front of the list, unsorted; callers bubble
// it into position afterward. Caller must hold c.mu.
func (c *sizeClass) pushHead(sb *superblock) {
	sb.next = c.head
	sb.prev = nil
	if c.head != nil {
		c.head.prev = sb
	} else {
		c.tail = sb
	}
	c.head = sb
}

// remove unlinks sb from the list. Caller must hold c.mu.
func (c *sizeClass) remove(sb *superblock) {
	if sb.prev != nil {
		sb.prev.next = sb.next
	} else {
		c.head = sb.next
	}
	if sb.next != nil {
		sb.next.prev = sb.prev
	} else {
		c.tail = sb.prev
	}
	sb.prev = nil
	sb.next = nil
}

// Validate checks spec.md §8 invariants 1 and 2: the used/total block
// counts match the sum over listed superblocks, and the list is sorted
// non-increasing by usedCount. Called through memutils.DebugValidate and
// from Allocator.Validate.
func (c *sizeClass) Validate() error {
	usedSum, totalSum := 0, 0
	prevUsed := 0
	hasPrev := false

	for sb := c.head; sb != nil; sb = sb.next {
		if hasPrev && sb.usedCount > prevUsed {
			return errors.Newf("size class %d bytes: superblock list not sorted non-increasing by usedCount", c.blockSize)
		}
		prevUsed, hasPrev = sb.usedCount, true
		usedSum += sb.usedCount
		totalSum += sb.totalCount
		if err := sb.Validate(); err != nil {
			return err
		}
	}

	if usedSum != c.usedBlocks {
		return errors.Newf("size class %d bytes: usedBlocks %d, sum over superblocks is %d", c.blockSize, c.usedBlocks, usedSum)
	}
	if totalSum != c.totalBlocks {
		return errors.Newf("size class %d bytes: totalBlocks %d, sum over superblocks is %d", c.blockSize, c.totalBlocks, totalSum)
	}
	return nil
}
