package heap

import "unsafe"

// bytePtr returns the address of a byte slice's backing array, used to
// compute the offset of a returned block within its owning extent.
func bytePtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func uintptrLen(b []byte) uintptr {
	return uintptr(len(b))
}
