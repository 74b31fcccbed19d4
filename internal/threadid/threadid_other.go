//go:build !linux

package threadid

import (
	"bytes"
	"runtime"
	"strconv"
)

type goroutineIDSource struct{}

// New returns the real thread identity source. Off Linux there is no
// portable OS thread id for a goroutine, so this reports the calling
// goroutine's own id instead: goroutines, like threads, are the unit of
// concurrent execution the size-class locks arbitrate between, and
// spec.md §9 only requires the hash to be cheap and deterministic per
// call, not tied to a specific kernel thread.
func New() Source {
	return goroutineIDSource{}
}

func (goroutineIDSource) Current() int {
	return goroutineID()
}

func goroutineID() int {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return 0
	}
	id, err := strconv.Atoi(string(buf[:idx]))
	if err != nil {
		return 0
	}
	return id
}
