//go:build !unix

package pagesource

// New returns the real page source. Off Unix there is no portable
// anonymous-mmap syscall available without cgo, so this falls back to
// ordinary Go-heap-backed regions -- still zero-filled, still stable for
// the lifetime of the process, just not literally OS pages.
func New() Source {
	return NewFakeSource()
}
