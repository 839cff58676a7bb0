// Package heap provides a fixed-size arena carved from anonymous shared
// memory. Allocations are served from per-size free lists first and from a
// bump pointer otherwise.
package heap

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/skadidb/pkg/status"
)

// Diagnostics turns on per-call tracing.
type Diagnostics struct {
	TraceAllocs bool
	TraceFrees  bool
}

// Config sizes the arena.
type Config struct {
	Size        int
	Diagnostics Diagnostics
	Logger      *slog.Logger
}

const alignment = 64

// Heap is a shared-memory arena. It is safe for concurrent use.
type Heap struct {
	mu     sync.Mutex
	mem    []byte
	next   int
	free   map[int][]int
	live   map[int]int
	inUse  int
	diag   Diagnostics
	logger *slog.Logger
}

// New maps an arena of cfg.Size bytes.
func New(cfg Config) (*Heap, error) {
	if cfg.Size <= 0 {
		return nil, status.InvalidArgumentf("heap size %d must be positive", cfg.Size)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mem, err := mapShared(cfg.Size)
	if err != nil {
		return nil, errors.Wrapf(status.ErrNoMemory, "failed to map %d byte heap: %v", cfg.Size, err)
	}
	logger.Debug("shared heap mapped", "size", cfg.Size)
	return &Heap{
		mem:    mem,
		free:   make(map[int][]int),
		live:   make(map[int]int),
		diag:   cfg.Diagnostics,
		logger: logger,
	}, nil
}

func roundUp(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

// Alloc returns n zeroed bytes from the arena.
func (h *Heap) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, status.InvalidArgumentf("allocation size %d must be positive", n)
	}
	size := roundUp(n)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mem == nil {
		return nil, status.InvalidStatef("heap is destroyed")
	}

	var off int
	if list := h.free[size]; len(list) > 0 {
		off = list[len(list)-1]
		h.free[size] = list[:len(list)-1]
		clear(h.mem[off : off+size])
	} else {
		if h.next+size > len(h.mem) {
			return nil, errors.Wrapf(status.ErrNoMemory, "heap exhausted: %d of %d bytes used", h.inUse, len(h.mem))
		}
		off = h.next
		h.next += size
	}
	h.live[off] = size
	h.inUse += size

	if h.diag.TraceAllocs {
		h.logger.Debug("heap alloc", "offset", off, "size", size, "in_use", h.inUse)
	}
	return h.mem[off : off+n : off+size], nil
}

// Free returns b, which must have come from Alloc, to the arena.
func (h *Heap) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mem == nil {
		return
	}

	off := h.offset(b)
	size, ok := h.live[off]
	if !ok {
		panic(errors.AssertionFailedf("heap free of unallocated offset %d", off))
	}
	delete(h.live, off)
	h.free[size] = append(h.free[size], off)
	h.inUse -= size

	if h.diag.TraceFrees {
		h.logger.Debug("heap free", "offset", off, "size", size, "in_use", h.inUse)
	}
}

// InUse is the number of bytes currently allocated.
func (h *Heap) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// IsOpen reports whether the arena is still mapped.
func (h *Heap) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mem != nil
}

// Destroy unmaps the arena. Outstanding allocations are reported as a leak;
// the memory is released regardless.
func (h *Heap) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mem == nil {
		return nil
	}

	var leak error
	if len(h.live) > 0 {
		h.logger.Warn("shared heap destroyed with live allocations", "allocations", len(h.live), "bytes", h.inUse)
		leak = status.InvalidStatef("%d heap allocations (%d bytes) still live", len(h.live), h.inUse)
	}
	err := unmapShared(h.mem)
	h.mem = nil
	h.live = nil
	h.free = nil
	return errors.CombineErrors(leak, err)
}
