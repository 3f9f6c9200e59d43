//go:build !kiln_debug

package memutils

import "unsafe"

const (
	// DebugMargin is the number of guard bytes placed after each reservation in an arena
	DebugMargin int = 0
)

// ValidateMagicValue verifies that the marker written by WriteMagicValue is still present.
// This method always returns true unless the kiln_debug build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	return true
}

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes at the provided pointer and offset.
// This method no-ops unless the kiln_debug build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the kiln_debug build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 panics if value is not a power of two.
// This method no-ops unless the kiln_debug build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
