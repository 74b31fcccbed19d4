package memutils

import "github.com/pkg/errors"

// ErrNotPowerOfTwo is returned by CheckPow2 when a value that is required
// to be a power of two is not one.
var ErrNotPowerOfTwo error = errors.New("value must be a power of two")
