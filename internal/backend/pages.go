package backend

import "unsafe"

func hostBuffer(b []byte) Buffer {
	return Buffer{
		Base: uintptr(unsafe.Pointer(&b[0])),
		Size: len(b),
		Host: b,
	}
}
