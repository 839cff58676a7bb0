//go:build unix

package heap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func mapShared(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
}

func unmapShared(mem []byte) error {
	return unix.Munmap(mem)
}

func (h *Heap) offset(b []byte) int {
	return int(uintptr(unsafe.Pointer(unsafe.SliceData(b))) - uintptr(unsafe.Pointer(unsafe.SliceData(h.mem))))
}
