// Package task tracks the goroutines allowed to call into a store and hands
// each one private scratch space.
package task

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/skadidb/pkg/status"
)

// Allocator supplies scratch buffers. The shared-memory heap satisfies it.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)
}

// Config bounds the registry.
type Config struct {
	MaxThreads  int
	ScratchSize int
	Logger      *slog.Logger
}

// System is the thread registry.
type System struct {
	mu     sync.Mutex
	cfg    Config
	alloc  Allocator
	logger *slog.Logger
	slots  []*Thread
	active int
	main   *Thread
	closed bool
}

// Thread is one registered goroutine.
type Thread struct {
	sys     *System
	id      int
	scratch []byte
}

// NewSystem builds a registry and registers the calling goroutine. alloc may
// be nil, in which case scratch comes from the Go heap.
func NewSystem(cfg Config, alloc Allocator) (*System, error) {
	if cfg.MaxThreads <= 0 {
		return nil, status.InvalidArgumentf("max threads %d must be positive", cfg.MaxThreads)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &System{
		cfg:    cfg,
		alloc:  alloc,
		logger: logger,
		slots:  make([]*Thread, cfg.MaxThreads),
	}
	main, err := s.Register()
	if err != nil {
		return nil, err
	}
	s.main = main
	return s, nil
}

// Register claims a slot for the calling goroutine. It fails with a busy
// error once MaxThreads goroutines are registered.
func (s *System) Register() (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, status.InvalidStatef("task system is destroyed")
	}

	id := -1
	for i, t := range s.slots {
		if t == nil {
			id = i
			break
		}
	}
	if id < 0 {
		return nil, errors.Wrapf(status.ErrBusy, "all %d thread slots are registered", s.cfg.MaxThreads)
	}

	t := &Thread{sys: s, id: id}
	if s.cfg.ScratchSize > 0 {
		var err error
		if t.scratch, err = s.allocScratch(); err != nil {
			return nil, err
		}
	}
	s.slots[id] = t
	s.active++
	s.logger.Debug("thread registered", "thread", id, "active", s.active)
	return t, nil
}

func (s *System) allocScratch() ([]byte, error) {
	if s.alloc == nil {
		return make([]byte, s.cfg.ScratchSize), nil
	}
	return s.alloc.Alloc(s.cfg.ScratchSize)
}

// ID is the slot index of t.
func (t *Thread) ID() int { return t.id }

// Scratch is per-thread working memory valid until Deregister.
func (t *Thread) Scratch() []byte { return t.scratch }

// Deregister releases the slot. Calling it again is a no-op.
func (t *Thread) Deregister() {
	s := t.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.slots[t.id] != t {
		return
	}
	s.release(t)
	s.logger.Debug("thread deregistered", "thread", t.id, "active", s.active)
}

func (s *System) release(t *Thread) {
	if t.scratch != nil && s.alloc != nil {
		s.alloc.Free(t.scratch)
	}
	t.scratch = nil
	s.slots[t.id] = nil
	s.active--
}

// Registered is the number of registered goroutines, including the creator.
func (s *System) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// IsOpen reports whether the registry has not been destroyed.
func (s *System) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Destroy deregisters the creator and tears the registry down. Goroutines
// still registered at that point are reported as leaked.
func (s *System) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	if s.slots[s.main.id] == s.main {
		s.release(s.main)
	}
	var err error
	if s.active > 0 {
		s.logger.Warn("task system destroyed with registered threads", "threads", s.active)
		err = status.InvalidStatef("%d threads still registered", s.active)
		for _, t := range s.slots {
			if t != nil {
				s.release(t)
			}
		}
	}
	s.closed = true
	return err
}
