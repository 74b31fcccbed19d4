package heap

import "unsafe"

// rawBlockHeader is stamped directly into the backing memory immediately
// before the address returned to the caller, exactly as spec.md §3
// describes. It stores only plain integers, never a Go pointer: this
// memory comes from the page source and is invisible to the garbage
// collector, so a live Go pointer stored inside it would not keep its
// target reachable. The owning superblock is instead named by id and
// resolved through the process-wide superblock registry in superblock.go,
// matching spec.md §9's suggestion to model back-pointers as handles
// rather than owning references.
type rawBlockHeader struct {
	nextOffset   int64  // superblock-relative offset of the next free block, or noOffset
	superblockID uint64 // 0 for a large block, which has no owning superblock
	blockSize    uint64 // 2^c for a small block; the exact requested size for a large block
	inUse        uint32 // 0 or 1
}

// noOffset marks the end of a superblock's free list, or a large block's
// unused nextOffset field.
const noOffset int64 = -1

var headerSize = int(unsafe.Sizeof(rawBlockHeader{}))

func headerAt(ptr unsafe.Pointer) *rawBlockHeader {
	return (*rawBlockHeader)(ptr)
}

// payloadOf returns the address handed to the caller for the block whose
// header starts at headerPtr.
func payloadOf(headerPtr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(headerPtr, headerSize)
}

// headerPtrOf recovers the address of the block header immediately
// preceding a payload pointer previously returned to a caller.
func headerPtrOf(payload unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(payload, -headerSize)
}

// headerOf is headerPtrOf with the result typed for field access.
func headerOf(payload unsafe.Pointer) *rawBlockHeader {
	return headerAt(headerPtrOf(payload))
}
