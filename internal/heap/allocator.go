package heap

import (
	"log/slog"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/scalealloc/hoard/internal/memutils"
	"github.com/scalealloc/hoard/internal/pagesource"
	"github.com/scalealloc/hoard/internal/threadid"
)

// Allocator is the heap/superblock machine described in spec.md: CPUS
// per-CPU heaps plus one shared global heap, a page source, and a thread
// identity source. Every method is safe for concurrent use.
type Allocator struct {
	pages  pagesource.Source
	ids    threadid.Source
	logger *slog.Logger

	heaps [HEAPS]*heap
}

// New builds an Allocator. Every heap and class is constructed here, up
// front, so there is no first-touch initialization race to guard inside
// Allocate/Free -- the Go-native alternative to the original
// implementation's racy check-then-set isInitialized flag (spec.md §9). A
// nil logger falls back to a text handler on stderr.
//
// New proves the page source actually works -- fetching and releasing one
// superblock-sized region -- before handing back an Allocator. Go's
// sync.Mutex has no fallible init step, so this self-check stands in for
// the original implementation's pthread_mutex_init failure check: both are
// a startup probe of the resource the allocator depends on, failed fast
// rather than discovered on the first real allocation (spec.md §7's
// "lock-init failure at startup: fatal; the process cannot function").
func New(pages pagesource.Source, ids threadid.Source, logger *slog.Logger) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	a := &Allocator{pages: pages, ids: ids, logger: logger}
	for i := range a.heaps {
		a.heaps[i] = newHeap(i)
	}
	if err := a.selfCheck(); err != nil {
		return nil, errors.Wrapf(ErrLockInit, "heap: %v", err)
	}
	return a, nil
}

func (a *Allocator) selfCheck() error {
	ptr, err := a.pages.Fetch(SBSize)
	if err != nil {
		return err
	}
	return a.pages.Release(ptr, SBSize)
}

func (a *Allocator) globalHeap() *heap {
	return a.heaps[GlobalHeapIndex]
}

// cpuHeap reads the thread identity fresh on every call, per spec.md §9:
// a goroutine's heap assignment is never cached.
func (a *Allocator) cpuHeap() *heap {
	return a.heaps[cpuHeapIndex(a.ids.Current())]
}

// Allocate services spec.md §4.6's allocate(sz). It returns (nil, err)
// only when the page source is exhausted or the size cannot be
// represented; both are out-of-memory per spec.md §7.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	if size > LargeThreshold {
		return a.allocateLarge(size)
	}
	return a.allocateSmall(size)
}

func (a *Allocator) allocateLarge(size int) (unsafe.Pointer, error) {
	total := size + headerSize
	if total < size {
		return nil, errors.Wrapf(pagesource.ErrFetchFailed, "requested size %d overflows with header", size)
	}

	base, err := a.pages.Fetch(total)
	if err != nil {
		return nil, err
	}

	h := headerAt(base)
	h.blockSize = uint64(size)
	h.inUse = 1
	h.superblockID = 0
	h.nextOffset = noOffset
	return payloadOf(base), nil
}

func (a *Allocator) allocateSmall(size int) (unsafe.Pointer, error) {
	classIndex := classIndexFor(size)
	h := a.cpuHeap()
	class := &h.classes[classIndex]

	class.mu.Lock()

	if ptr, sb := class.searchFreeBlock(); ptr != nil {
		sb.usedCount++
		class.usedBlocks++
		class.bubbleUp(sb)
		memutils.DebugValidate(class)
		class.mu.Unlock()
		return payloadOf(ptr), nil
	}

	global := a.globalHeap()
	globalClass := &global.classes[classIndex]
	globalClass.mu.Lock()

	if sb := globalClass.head; sb != nil {
		// Invariantly has at least one free block: under-full superblocks
		// are exactly what lives in the global heap (spec.md §4.6 step 6).
		ptr := sb.popFreeBlock()
		sb.usedCount++
		globalClass.usedBlocks++
		a.migrateLocked(sb, globalClass, global, class, h)
		globalClass.mu.Unlock()
		class.mu.Unlock()
		return payloadOf(ptr), nil
	}

	sb, err := newSuperblock(a.pages, classIndex)
	if err != nil {
		globalClass.mu.Unlock()
		class.mu.Unlock()
		a.logger.Error("failed to grow size class", slog.Int("classIndex", classIndex), slog.Any("error", err))
		return nil, err
	}
	a.logger.Debug("grew size class with new superblock", slog.Int("heap", h.id), slog.Int("classIndex", classIndex), slog.Int("blockSize", sb.blockSize), slog.Int("totalCount", sb.totalCount))

	sb.owningHeap = h
	ptr := sb.popFreeBlock()
	sb.usedCount++
	class.pushTail(sb)
	class.bubbleUp(sb)
	class.usedBlocks++
	class.totalBlocks += sb.totalCount

	globalClass.mu.Unlock()
	class.mu.Unlock()
	return payloadOf(ptr), nil
}

// Free services spec.md §4.6's free(ptr). A nil pointer is a no-op.
func (a *Allocator) Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}

	h := headerOf(ptr)
	if h.superblockID == 0 {
		return a.pages.Release(headerPtrOf(ptr), int(h.blockSize)+headerSize)
	}

	sb := lookupSuperblock(h.superblockID)
	if sb == nil {
		return errors.Newf("heap: free of block with unknown superblock id %d", h.superblockID)
	}

	// The handoff lock: hold sb.mu only long enough to resolve the class
	// that currently owns it, so a concurrent migration cannot move sb out
	// from under us between reading owningHeap and locking its class
	// (spec.md §5).
	sb.mu.Lock()
	owningHeap := sb.owningHeap
	classIndex := sb.classIndex
	class := &owningHeap.classes[classIndex]
	class.mu.Lock()
	sb.mu.Unlock()

	sb.pushFreeBlock(headerPtrOf(ptr))
	sb.usedCount--
	class.usedBlocks--
	class.bubbleDown(sb)
	memutils.DebugValidate(class)

	if owningHeap.id != GlobalHeapIndex && a.violatesInvariant(class, sb) {
		global := a.globalHeap()
		globalClass := &global.classes[classIndex]
		globalClass.mu.Lock()
		// The tail is the least-full superblock in the list and is
		// guaranteed to be the one preventing the invariant from holding
		// (spec.md §4.7).
		migrated := class.tail
		a.migrateLocked(migrated, class, owningHeap, globalClass, global)
		globalClass.mu.Unlock()
		a.logger.Debug("reclaimed under-utilized superblock to global heap",
			slog.Int("fromHeap", owningHeap.id), slog.Int("classIndex", classIndex),
			slog.Uint64("superblockID", migrated.id), slog.Int("usedCount", migrated.usedCount))
	}

	class.mu.Unlock()
	return nil
}

// violatesInvariant implements spec.md §4.7's reclamation predicate:
// u < a - K*S && u < (1-F)*a, kept in its literal two-conjunct form so a
// future non-zero SlackSuperblocks remains meaningful (spec.md §9).
func (a *Allocator) violatesInvariant(class *sizeClass, sb *superblock) bool {
	u := float64(class.usedBlocks)
	total := float64(class.totalBlocks)
	s := float64(sb.totalCount)
	return u < total-SlackSuperblocks*s && u < (1-EmptyFraction)*total
}

// migrateLocked moves sb from srcClass (in srcHeap) to dstClass (in
// dstHeap), per spec.md §4.7. Caller must hold both class locks.
func (a *Allocator) migrateLocked(sb *superblock, srcClass *sizeClass, srcHeap *heap, dstClass *sizeClass, dstHeap *heap) {
	srcClass.remove(sb)
	srcClass.usedBlocks -= sb.usedCount
	srcClass.totalBlocks -= sb.totalCount

	dstClass.pushHead(sb)
	dstClass.bubbleDown(sb)
	dstClass.usedBlocks += sb.usedCount
	dstClass.totalBlocks += sb.totalCount

	sb.owningHeap = dstHeap
}

// ZeroAllocate services spec.md §4.6's calloc(n, sz): allocate count*size
// bytes, saturating to an out-of-memory failure on overflow, then zero the
// returned region.
func (a *Allocator) ZeroAllocate(count, size int) (unsafe.Pointer, error) {
	if count < 0 || size < 0 {
		return nil, errors.Newf("heap: negative calloc arguments (%d, %d)", count, size)
	}

	total, overflowed := mulOverflows(count, size)
	if overflowed {
		return nil, pagesource.ErrFetchFailed
	}

	ptr, err := a.Allocate(total)
	if err != nil {
		return nil, err
	}

	clear(unsafe.Slice((*byte)(ptr), total))
	return ptr, nil
}

func mulOverflows(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	result := a * b
	if result/a != b {
		return 0, true
	}
	return result, false
}

// Reallocate services spec.md §4.6's realloc(ptr, sz): always out-of-place.
// It copies min(sz, old block size) bytes, fixing the original
// implementation's unconditional-length copy (spec.md §9's explicit
// correctness note).
func (a *Allocator) Reallocate(ptr unsafe.Pointer, size int) (unsafe.Pointer, error) {
	if ptr == nil {
		return a.Allocate(size)
	}
	if size == 0 {
		return nil, a.Free(ptr)
	}

	oldSize := int(headerOf(ptr).blockSize)

	newPtr, err := a.Allocate(size)
	if err != nil {
		return nil, err
	}

	copyLen := size
	if oldSize < copyLen {
		copyLen = oldSize
	}
	copy(unsafe.Slice((*byte)(newPtr), copyLen), unsafe.Slice((*byte)(ptr), copyLen))

	if err := a.Free(ptr); err != nil {
		return nil, err
	}
	return newPtr, nil
}

// Stats reports usedBlocks/totalBlocks for one heap's size class. It
// exists solely so tests can assert the invariants in spec.md §8; it is
// not reachable from the module's public surface (Non-goals: allocation
// statistics APIs).
func (a *Allocator) Stats(heapIndex, classIndex int) (used, total int) {
	class := &a.heaps[heapIndex].classes[classIndex]
	class.mu.Lock()
	defer class.mu.Unlock()
	return class.usedBlocks, class.totalBlocks
}

// Validate runs the spec.md §8 invariant checks across every heap and
// class: invariants 1-4 through sizeClass.Validate/superblock.Validate,
// invariant 5 (superblock linkage) through validateOwnership, and
// invariant 6 (the reclamation bound) through validateReclamationBound.
func (a *Allocator) Validate() error {
	for _, h := range a.heaps {
		for c := range h.classes {
			class := &h.classes[c]
			if err := class.Validate(); err != nil {
				return err
			}
			if err := validateOwnership(h, c, class); err != nil {
				return err
			}
			if h.id != GlobalHeapIndex {
				if err := validateReclamationBound(class); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// validateOwnership checks spec.md §8 invariant 5: for every superblock,
// owningHeap.classes[c] actually contains it. Equivalently, every
// superblock found while walking h.classes[classIndex] must record that
// same heap and class index as its own.
func validateOwnership(h *heap, classIndex int, class *sizeClass) error {
	for sb := class.head; sb != nil; sb = sb.next {
		if sb.owningHeap != h {
			return errors.Newf("superblock %d: listed in heap %d class %d bytes, but owningHeap is heap %d", sb.id, h.id, class.blockSize, sb.owningHeap.id)
		}
		if sb.classIndex != classIndex {
			return errors.Newf("superblock %d: listed in class index %d, but classIndex field is %d", sb.id, classIndex, sb.classIndex)
		}
	}
	return nil
}

// validateReclamationBound checks spec.md §8 invariant 6 for one CPU
// heap's class: the negation of the reclamation predicate in
// violatesInvariant must hold, since Free migrates the tail superblock
// away before returning whenever it doesn't. An empty class trivially
// satisfies it. S is taken from the tail superblock's totalCount, which
// is the same for every superblock in the class (totalCount is
// determined solely by blockSize and SBSize).
func validateReclamationBound(class *sizeClass) error {
	if class.totalBlocks == 0 {
		return nil
	}
	u := float64(class.usedBlocks)
	total := float64(class.totalBlocks)
	s := float64(class.tail.totalCount)
	if u >= total-SlackSuperblocks*s || u >= (1-EmptyFraction)*total {
		return nil
	}
	return errors.Newf("size class %d bytes: reclamation bound violated (used=%d, total=%d, S=%.0f)", class.blockSize, class.usedBlocks, class.totalBlocks, s)
}
