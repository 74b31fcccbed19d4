package heap

import "github.com/pkg/errors"

// ErrLockInit is returned only from New, when the process-wide self-check
// that proves the page source can actually hand out and release memory
// fails. spec.md §7 treats this as fatal: the process cannot continue
// because the allocator cannot function.
var ErrLockInit error = errors.New("heap: process-wide initialization failed")
