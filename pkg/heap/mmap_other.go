//go:build !unix

package heap

import (
	"unsafe"

	"github.com/ssargent/skadidb/pkg/status"
)

func mapShared(size int) ([]byte, error) {
	return nil, status.InvalidArgumentf("shared memory heap is not supported on this platform")
}

func unmapShared(mem []byte) error {
	return nil
}

func (h *Heap) offset(b []byte) int {
	return int(uintptr(unsafe.Pointer(unsafe.SliceData(b))) - uintptr(unsafe.Pointer(unsafe.SliceData(h.mem))))
}
