//go:build debug_mem_utils

package memutils

import "unsafe"

const (
	// DebugMargin is the number of bytes of corruption-detection stamp
	// placed at the front of regions managed by the heap package.
	DebugMargin int = 16
	corruptionDetectionMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue stamps an easy-to-identify marker across DebugMargin
// bytes at the provided pointer and offset. No-ops unless the
// debug_mem_utils build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Add(data, offset)
	words := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < words; i++ {
		*(*uint32)(dest) = corruptionDetectionMagicValue
		dest = unsafe.Add(dest, unsafe.Sizeof(uint32(0)))
	}
}

// ValidateMagicValue reports whether the marker written by WriteMagicValue
// is still intact. Always true unless the debug_mem_utils build tag is
// present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Add(data, offset)
	words := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < words; i++ {
		if *(*uint32)(source) != corruptionDetectionMagicValue {
			return false
		}
		source = unsafe.Add(source, unsafe.Sizeof(uint32(0)))
	}
	return true
}

// DebugValidate calls Validate and panics if it returns an error. No-ops
// unless the debug_mem_utils build tag is present.
func DebugValidate(v Validatable) {
	if err := v.Validate(); err != nil {
		panic(err)
	}
}
