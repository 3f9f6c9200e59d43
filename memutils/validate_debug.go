//go:build kiln_debug

package memutils

import "unsafe"

const (
	// DebugMargin is the number of guard bytes placed after each reservation in an arena
	DebugMargin int = 16
	// corruptionDetectionMagicValue is a 4-byte pattern that is copied into the guard bytes
	// placed after each reservation in a host-visible arena
	corruptionDetectionMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes at the provided pointer and offset.
// This method no-ops unless the kiln_debug build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		*(*uint32)(dest) = corruptionDetectionMagicValue
		dest = unsafe.Add(dest, unsafe.Sizeof(uint32(0)))
	}
}

// ValidateMagicValue verifies that the marker written by WriteMagicValue is still present.
// This method always returns true unless the kiln_debug build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Add(data, offset)
	marginSize := DebugMargin / int(unsafe.Sizeof(uint32(0)))
	for i := 0; i < marginSize; i++ {
		if *(*uint32)(source) != corruptionDetectionMagicValue {
			return false
		}
		source = unsafe.Add(source, unsafe.Sizeof(uint32(0)))
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the kiln_debug build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics if value is not a power of two.
// This method no-ops unless the kiln_debug build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
