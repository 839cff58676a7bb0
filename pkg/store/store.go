// Package store is the embeddable SkadiDB instance: it wires the storage
// subsystems together in order, tears them down in reverse and exposes the
// mutation, lookup and iteration API over application keys.
package store

import (
	"log/slog"
	"sync/atomic"

	"github.com/ssargent/skadidb/pkg/allocator"
	"github.com/ssargent/skadidb/pkg/cache"
	"github.com/ssargent/skadidb/pkg/heap"
	"github.com/ssargent/skadidb/pkg/iodev"
	"github.com/ssargent/skadidb/pkg/lifecycle"
	"github.com/ssargent/skadidb/pkg/shim"
	"github.com/ssargent/skadidb/pkg/status"
	"github.com/ssargent/skadidb/pkg/task"
	"github.com/ssargent/skadidb/pkg/trunk"
)

// Lifecycle step names, in acquisition order.
const (
	StepHeap           = "map shared heap"
	StepDevice         = "open device"
	StepTasks          = "start task system"
	StepInitAllocator  = "init allocator"
	StepMountAllocator = "mount allocator"
	StepCache          = "create page cache"
	StepCreateTree     = "create tree"
	StepMountTree      = "mount tree"
)

// Store is an open SkadiDB instance. All methods are safe for concurrent use
// by goroutines registered through RegisterThread; Create, Open and Close are
// not re-entrant.
type Store struct {
	cfg    Config
	logger *slog.Logger
	shim   *shim.Config

	heap  *heap.Heap
	dev   *iodev.Device
	tasks *task.System
	alloc *allocator.Allocator
	cache *cache.Cache
	tree  *trunk.Tree

	stack   *lifecycle.Stack
	metrics *metrics
	stats   counters
	closed  atomic.Bool
}

// Create formats a new store at cfg.Path.
func Create(cfg Config) (*Store, error) {
	return createOrOpen(cfg, true)
}

// Open mounts the existing store at cfg.Path.
func Open(cfg Config) (*Store, error) {
	return createOrOpen(cfg, false)
}

func createOrOpen(cfg Config, create bool) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sh, err := shim.New(cfg.Data)
	if err != nil {
		return nil, err
	}

	s := &Store{cfg: cfg, logger: cfg.Logger, shim: sh}
	s.stats.enabled = cfg.UseStats
	var inject lifecycle.Injector
	if cfg.inject != nil {
		inject = func(step string) error { return cfg.inject(step, s) }
	}
	s.stack = lifecycle.New(s.logger, inject)

	if err := s.stack.Run(s.steps(create)...); err != nil {
		s.logger.Error("failed to start store", "path", cfg.Path, "create", create, "error", err)
		return nil, err
	}
	s.metrics = newMetrics(s)

	if create {
		s.logger.Info("created new store", "path", cfg.Path, "device_id", s.alloc.DeviceID().String())
	} else {
		s.logger.Info("mounted existing store", "path", cfg.Path, "device_id", s.alloc.DeviceID().String())
	}
	return s, nil
}

func (s *Store) treeConfig() trunk.Config {
	return trunk.Config{
		Dir:                 s.cfg.Path,
		Data:                s.shim,
		PageSize:            s.cfg.PageSize,
		MemtableCapacity:    s.cfg.MemtableCapacity,
		Fanout:              s.cfg.Fanout,
		MaxBranchesPerNode:  s.cfg.MaxBranchesPerNode,
		RoughCountHeight:    s.cfg.RoughCountHeight,
		FilterRemainderSize: s.cfg.FilterRemainderSize,
		FilterIndexSize:     s.cfg.FilterIndexSize,
		ReclaimThreshold:    s.cfg.ReclaimThreshold,
		UseLog:              s.cfg.UseLog,
		Logger:              s.logger,
	}
}

// steps lists the subsystems in dependency order. Create and Open differ
// only in whether the allocator and tree are formatted or mounted.
func (s *Store) steps(create bool) []lifecycle.Step {
	var steps []lifecycle.Step
	if s.cfg.UseShmem {
		steps = append(steps, lifecycle.Step{
			Name: StepHeap,
			Acquire: func() (err error) {
				s.heap, err = heap.New(heap.Config{
					Size:        s.cfg.ShmemSize,
					Diagnostics: s.cfg.Diagnostics,
					Logger:      s.logger,
				})
				return err
			},
			Release: func() error { return s.heap.Destroy() },
		})
	}

	steps = append(steps,
		lifecycle.Step{
			Name: StepDevice,
			Acquire: func() (err error) {
				s.dev, err = iodev.Open(s.cfg.deviceConfig(create))
				return err
			},
			Release: func() error { return s.dev.Close() },
		},
		lifecycle.Step{
			Name: StepTasks,
			Acquire: func() (err error) {
				var scratch task.Allocator
				if s.heap != nil {
					scratch = s.heap
				}
				s.tasks, err = task.NewSystem(task.Config{
					MaxThreads:  s.cfg.MaxThreads,
					ScratchSize: s.cfg.PageSize,
					Logger:      s.logger,
				}, scratch)
				return err
			},
			Release: func() error { return s.tasks.Destroy() },
		},
	)

	allocCfg := allocator.Config{Capacity: s.cfg.DiskSize, Logger: s.logger}
	if create {
		steps = append(steps, lifecycle.Step{
			Name: StepInitAllocator,
			Acquire: func() (err error) {
				s.alloc, err = allocator.Init(s.dev, allocCfg)
				return err
			},
			Release: func() error { return s.alloc.Unmount() },
			Abort:   func() error { return s.alloc.Discard() },
		})
	} else {
		steps = append(steps, lifecycle.Step{
			Name: StepMountAllocator,
			Acquire: func() (err error) {
				s.alloc, err = allocator.Mount(s.dev, allocCfg)
				return err
			},
			Release: func() error { return s.alloc.Unmount() },
		})
	}

	steps = append(steps, lifecycle.Step{
		Name: StepCache,
		Acquire: func() (err error) {
			s.cache, err = cache.New(cache.Config{Size: int64(s.cfg.CacheSize), Logger: s.logger}, s.dev)
			return err
		},
		Release: func() error { return s.cache.Close() },
	})

	if create {
		steps = append(steps, lifecycle.Step{
			Name: StepCreateTree,
			Acquire: func() (err error) {
				s.tree, err = trunk.Create(s.treeConfig(), s.alloc, s.cache)
				return err
			},
			Release: func() error { return s.tree.Unmount() },
		})
	} else {
		steps = append(steps, lifecycle.Step{
			Name: StepMountTree,
			Acquire: func() (err error) {
				s.tree, err = trunk.Mount(s.treeConfig(), s.alloc, s.cache)
				return err
			},
			Release: func() error { return s.tree.Unmount() },
		})
	}
	return steps
}

// Close tears the subsystems down in reverse order of construction. Every
// subsystem is released even when some fail.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return status.InvalidStatef("store is already closed")
	}
	err := s.stack.Close()
	if err != nil {
		s.logger.Error("store closed with errors", "path", s.cfg.Path, "error", err)
		return err
	}
	s.logger.Info("store closed", "path", s.cfg.Path)
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return status.InvalidStatef("store is closed")
	}
	return nil
}

// RegisterThread admits the calling goroutine. Every goroutine other than
// the one that created the store must register before use and Deregister
// before exiting.
func (s *Store) RegisterThread() (*task.Thread, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.tasks.Register()
}

// CacheFlush writes the tree's memtable and all dirty pages to the device.
func (s *Store) CacheFlush() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.tree.Flush()
}

// Handle reports whether one subsystem still holds its resources.
type Handle struct {
	Name   string
	IsOpen func() bool
}

// Handles lists the subsystems that were constructed, in construction order.
func (s *Store) Handles() []Handle {
	var hs []Handle
	add := func(name string, constructed bool, isOpen func() bool) {
		if constructed {
			hs = append(hs, Handle{Name: name, IsOpen: isOpen})
		}
	}
	add("heap", s.heap != nil, func() bool { return s.heap.IsOpen() })
	add("device", s.dev != nil, func() bool { return s.dev.IsOpen() })
	add("tasks", s.tasks != nil, func() bool { return s.tasks.IsOpen() })
	add("allocator", s.alloc != nil, func() bool { return s.alloc.IsOpen() })
	add("cache", s.cache != nil, func() bool { return s.cache.IsOpen() })
	add("tree", s.tree != nil, func() bool { return s.tree.IsOpen() })
	return hs
}
