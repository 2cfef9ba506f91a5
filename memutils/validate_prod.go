//go:build !debug_gralloc

package memutils

const (
	// DebugMargin is the number of bytes of debug data placed after the
	// reserved tail of shared regions laid out by this module
	DebugMargin int = 0
)

// ValidateMagicValue verifies that the marker written by WriteMagicValue is
// still present. It returns true if the value is still present and false
// otherwise. This method no-ops unless the debug_gralloc build tag is present.
func ValidateMagicValue(data []byte, offset int) bool {
	return true
}

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes
// at the provided offset. This method no-ops unless the debug_gralloc build
// tag is present.
func WriteMagicValue(data []byte, offset int) {
}

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_gralloc build tag
// is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of
// two, and panics if it is not. This method no-ops unless the debug_gralloc
// build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
