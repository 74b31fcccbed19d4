package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~int64 | ~uint | ~uint32 | ~uint64
}

// CheckPow2 reports an error if number is not a strictly positive power of
// two.
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment, which must
// be a power of two.
func AlignUp(value int, alignment uintptr) int {
	a := int(alignment)
	return (value + a - 1) &^ (a - 1)
}

// AlignDown rounds value down to the nearest multiple of alignment, which
// must be a power of two.
func AlignDown(value int, alignment uintptr) int {
	a := int(alignment)
	return value &^ (a - 1)
}

// Log2Ceil returns ceil(log2(value)) for value > 0, and 0 for value <= 1.
// This mirrors the original C implementation's (int)ceil(log2(sz)), which
// is ill-defined for sz <= 1; callers are responsible for clamping the
// result the way spec.md §9 requires.
func Log2Ceil(value int) int {
	if value <= 1 {
		return 0
	}
	n := 0
	v := value - 1
	for v > 0 {
		v >>= 1
		n++
	}
	return n
}
