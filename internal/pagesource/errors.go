package pagesource

import "github.com/pkg/errors"

// ErrFetchFailed is returned when the page source cannot satisfy a fetch
// request. spec.md §7 treats this and size-computation overflow
// identically, as out-of-memory.
var ErrFetchFailed error = errors.New("page source exhausted")
