//go:build !debug_mem_utils

package memutils

import "unsafe"

// DebugMargin is the number of bytes of corruption-detection stamp placed
// at the front of regions managed by the heap package.
const DebugMargin int = 0

// ValidateMagicValue reports whether the marker written by WriteMagicValue
// is still intact. Always true unless the debug_mem_utils build tag is
// present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// WriteMagicValue stamps an easy-to-identify marker across DebugMargin
// bytes at the provided pointer and offset. No-ops unless the
// debug_mem_utils build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
}

// DebugValidate calls Validate and panics if it returns an error. No-ops
// unless the debug_mem_utils build tag is present.
func DebugValidate(v Validatable) {
}
