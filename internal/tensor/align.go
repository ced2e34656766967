package tensor

import "unsafe"

// Alignment is the byte alignment of weight blobs and pool buffers. It covers
// a cache line and the widest SIMD register the kernels may use.
const Alignment = 64

// AlignSize rounds size up to a multiple of Alignment.
func AlignSize(size int) int {
	return (size + Alignment - 1) &^ (Alignment - 1)
}

// AlignedBytes allocates a byte slice of the given length whose first
// element sits on an Alignment boundary.
func AlignedBytes(size int) []byte {
	if size == 0 {
		return nil
	}
	buf := make([]byte, size+Alignment-1)
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if mod := int(ptr % Alignment); mod != 0 {
		offset = Alignment - mod
	}
	return buf[offset : offset+size : offset+size]
}

// IsAligned reports whether b starts on an Alignment boundary.
func IsAligned(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&b[0]))%Alignment == 0
}
