// Package trunk is the ordered key-message store underneath SkadiDB. It keeps
// encoded key slots in a Pebble LSM, folds Update messages with a Pebble merge
// operator and charges the LSM's disk footprint to allocator extents.
package trunk

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/ssargent/skadidb/pkg/allocator"
	"github.com/ssargent/skadidb/pkg/cache"
	"github.com/ssargent/skadidb/pkg/codec"
	"github.com/ssargent/skadidb/pkg/data"
	"github.com/ssargent/skadidb/pkg/message"
	"github.com/ssargent/skadidb/pkg/status"
)

// TreeID is the identifier of the single tree a store holds.
const TreeID = 1

// Config configures the tree. Data is the slot-level config, normally the
// store's shim.
type Config struct {
	Dir                 string
	Data                data.Config
	PageSize            int
	MemtableCapacity    uint64
	Fanout              int
	MaxBranchesPerNode  int
	RoughCountHeight    int
	FilterRemainderSize int
	FilterIndexSize     int
	ReclaimThreshold    uint64
	UseLog              bool
	Logger              *slog.Logger
}

func (c Config) validate() error {
	switch {
	case c.Data == nil:
		return status.InvalidArgumentf("tree data config is required")
	case c.PageSize <= 0:
		return status.InvalidArgumentf("page size %d must be positive", c.PageSize)
	case c.MemtableCapacity == 0:
		return status.InvalidArgumentf("memtable capacity must be positive")
	case c.Fanout < 2:
		return status.InvalidArgumentf("fanout %d must be at least 2", c.Fanout)
	case c.MaxBranchesPerNode < 1:
		return status.InvalidArgumentf("max branches per node %d must be positive", c.MaxBranchesPerNode)
	case c.FilterRemainderSize < 1:
		return status.InvalidArgumentf("filter remainder size %d must be positive", c.FilterRemainderSize)
	}
	return nil
}

// Tree is safe for concurrent use once created or mounted.
type Tree struct {
	cfg    Config
	logger *slog.Logger
	alloc  *allocator.Allocator
	cache  *cache.Cache
	db     *pebble.DB

	mu    sync.Mutex
	root  uint64
	super *super

	written atomic.Uint64
	full    atomic.Bool
	open    atomic.Bool
}

func newTree(cfg Config, alloc *allocator.Allocator, c *cache.Cache) (*Tree, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tree{cfg: cfg, logger: logger, alloc: alloc, cache: c}, nil
}

func (t *Tree) options() *pebble.Options {
	return &pebble.Options{
		Cache:                 t.cache.Blocks(),
		Comparer:              newComparer(t.cfg.Data),
		Merger:                newMerger(t.cfg.Data),
		DisableWAL:            !t.cfg.UseLog,
		MemTableSize:          t.cfg.MemtableCapacity,
		L0CompactionThreshold: min(4, t.cfg.MaxBranchesPerNode),
		L0StopWritesThreshold: t.cfg.MaxBranchesPerNode,
		LBaseMaxBytes:         int64(t.cfg.MemtableCapacity) * int64(t.cfg.Fanout),
		Levels: []pebble.LevelOptions{{
			BlockSize:    t.cfg.PageSize,
			FilterPolicy: bloom.FilterPolicy(t.cfg.FilterRemainderSize + 4),
		}},
		Logger: pebbleLogger{logger: t.logger},
	}
}

// Create allocates a root extent, records a fresh tree in it and creates the
// LSM. It fails if the device already has a tree.
func Create(cfg Config, alloc *allocator.Allocator, c *cache.Cache) (*Tree, error) {
	t, err := newTree(cfg, alloc, c)
	if err != nil {
		return nil, err
	}
	if _, ok := alloc.Root(TreeID); ok {
		return nil, status.InvalidStatef("device already holds tree %d", TreeID)
	}

	root, err := alloc.Alloc()
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate tree root")
	}
	t.root = root
	t.super = &super{
		TreeID:           TreeID,
		Dir:              fmt.Sprintf("trunk-%04d", TreeID),
		Comparer:         data.Name(cfg.Data) + ".comparer",
		Merger:           data.Name(cfg.Data) + ".merger",
		DeviceID:         alloc.DeviceID().Bytes(),
		KeySize:          uint32(cfg.Data.KeySize()),
		RoughCountHeight: uint32(cfg.RoughCountHeight),
		FilterIndexSize:  uint32(cfg.FilterIndexSize),
	}

	opts := t.options()
	opts.ErrorIfExists = true
	db, err := pebble.Open(t.dbPath(), opts)
	if err != nil {
		_, _ = alloc.DecRef(root)
		if errors.Is(err, pebble.ErrDBAlreadyExists) {
			return nil, errors.Wrapf(status.ErrInvalidState, "tree directory %s already exists", t.dbPath())
		}
		return nil, ioError(err, "failed to create tree")
	}
	t.db = db

	// abort undoes a partial create so a later Create at the same path can
	// succeed.
	abort := func(cause error) (*Tree, error) {
		_ = db.Close()
		t.db = nil
		if err := vfs.Default.RemoveAll(t.dbPath()); err != nil {
			t.logger.Warn("failed to remove partial tree", "dir", t.dbPath(), "error", err)
		}
		alloc.ClearRoot(TreeID)
		_, _ = alloc.DecRef(root)
		return nil, cause
	}

	if err := t.persist(); err != nil {
		return abort(err)
	}
	if err := alloc.SetRoot(TreeID, root); err != nil {
		return abort(err)
	}
	if err := alloc.Sync(); err != nil {
		return abort(err)
	}

	t.open.Store(true)
	t.logger.Debug("tree created", "root", root, "dir", t.dbPath())
	return t, nil
}

// Mount opens the tree recorded on the device. The recorded format must
// match cfg.
func Mount(cfg Config, alloc *allocator.Allocator, c *cache.Cache) (*Tree, error) {
	t, err := newTree(cfg, alloc, c)
	if err != nil {
		return nil, err
	}
	root, ok := alloc.Root(TreeID)
	if !ok {
		return nil, errors.Wrapf(status.ErrNotFound, "device holds no tree %d", TreeID)
	}
	t.root = root

	s, err := t.readSuper()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tree record")
	}
	if err := t.verify(s); err != nil {
		return nil, err
	}
	t.super = s

	opts := t.options()
	opts.ErrorIfNotExists = true
	db, err := pebble.Open(t.dbPath(), opts)
	if err != nil {
		if errors.Is(err, pebble.ErrDBDoesNotExist) {
			return nil, errors.Wrapf(status.ErrNotFound, "tree directory %s is missing", t.dbPath())
		}
		return nil, ioError(err, "failed to open tree")
	}
	t.db = db
	t.open.Store(true)
	t.logger.Debug("tree mounted", "root", root, "dir", t.dbPath(), "extents", len(s.Owned))
	return t, nil
}

// ioError marks an engine failure as an I/O error while keeping the cause
// visible to errors.Is.
func ioError(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), status.ErrIO)
}

func (t *Tree) verify(s *super) error {
	want := []struct {
		name      string
		got, want any
	}{
		{"tree id", s.TreeID, uint64(TreeID)},
		{"comparer", s.Comparer, data.Name(t.cfg.Data) + ".comparer"},
		{"merger", s.Merger, data.Name(t.cfg.Data) + ".merger"},
		{"device id", string(s.DeviceID), string(t.alloc.DeviceID().Bytes())},
		{"key size", s.KeySize, uint32(t.cfg.Data.KeySize())},
		{"rough count height", s.RoughCountHeight, uint32(t.cfg.RoughCountHeight)},
		{"filter index size", s.FilterIndexSize, uint32(t.cfg.FilterIndexSize)},
	}
	for _, w := range want {
		if w.got != w.want {
			return status.InvalidStatef("tree %s mismatch: recorded %v, configured %v", w.name, w.got, w.want)
		}
	}
	return nil
}

func (t *Tree) dbPath() string {
	return filepath.Join(t.cfg.Dir, t.super.Dir)
}

func (t *Tree) checkOpen() error {
	if !t.open.Load() {
		return status.InvalidStatef("tree is not mounted")
	}
	return nil
}

// Insert applies msg to the key slot. Insert messages replace the key,
// Updates are merged and Deletes leave a tombstone.
func (t *Tree) Insert(slot []byte, msg message.Message) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.full.Load() {
		return errors.Wrap(status.ErrNoSpace, "device budget exhausted")
	}

	value := message.Encode(nil, msg)
	var err error
	switch msg.Kind {
	case message.Insert:
		err = t.db.Set(slot, value, pebble.NoSync)
	case message.Update:
		err = t.db.Merge(slot, value, pebble.NoSync)
	case message.Delete:
		err = t.db.Delete(slot, pebble.NoSync)
	default:
		return status.InvalidArgumentf("cannot insert message of kind %s", msg.Kind)
	}
	if err != nil {
		return ioError(err, "failed to apply "+msg.Kind.String())
	}

	if t.written.Add(uint64(len(slot)+len(value))) >= t.cfg.ReclaimThreshold {
		t.written.Store(0)
		if err := t.reconcile(); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the resolved message for slot. A key whose newest message is
// a Delete is reported as absent.
func (t *Tree) Lookup(slot []byte) (message.Message, bool, error) {
	if err := t.checkOpen(); err != nil {
		return message.Message{}, false, err
	}
	value, closer, err := t.db.Get(slot)
	if errors.Is(err, pebble.ErrNotFound) {
		return message.Message{}, false, nil
	}
	if err != nil {
		return message.Message{}, false, ioError(err, "lookup failed")
	}
	defer closer.Close()

	m := message.Decode(value, t.cfg.Data.Classify)
	if m.IsDelete() {
		return message.Message{}, false, nil
	}
	return m.Clone(), true, nil
}

// Flush persists the memtable, recharges the disk footprint and writes back
// the tree record.
func (t *Tree) Flush() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.db.Flush(); err != nil {
		return ioError(err, "failed to flush tree")
	}
	if err := t.reconcile(); err != nil {
		return err
	}
	return t.cache.Flush()
}

// reconcile charges the LSM's current disk usage to allocator extents.
func (t *Tree) reconcile() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	extent := t.alloc.ExtentSize()
	need := (t.db.Metrics().DiskSpaceUsage() + extent - 1) / extent
	owned := t.super.Owned
	changed := false

	for uint64(len(owned)) < need {
		ext, err := t.alloc.Alloc()
		if err != nil {
			t.super.Owned = owned
			if errors.Is(err, status.ErrNoSpace) {
				t.full.Store(true)
				t.logger.Error("device budget exhausted", "owned_extents", len(owned), "needed", need)
			}
			_ = t.persistLocked()
			return err
		}
		owned = append(owned, ext)
		changed = true
	}
	for uint64(len(owned)) > need {
		last := owned[len(owned)-1]
		if _, err := t.alloc.DecRef(last); err != nil {
			return err
		}
		owned = owned[:len(owned)-1]
		changed = true
	}
	t.full.Store(false)

	if !changed {
		return nil
	}
	slices.Sort(owned)
	t.super.Owned = owned
	return t.persistLocked()
}

func (t *Tree) persist() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.persistLocked()
}

// persistLocked writes the tree record across the leading pages of the root
// extent through the page cache.
func (t *Tree) persistLocked() error {
	raw := t.super.encode()
	if uint64(len(raw)) > t.alloc.ExtentSize() {
		return status.InvalidStatef("tree record of %d bytes exceeds extent size %d", len(raw), t.alloc.ExtentSize())
	}
	first := t.alloc.FirstPage(t.root)
	for off, i := 0, uint64(0); off < len(raw); off, i = off+t.cfg.PageSize, i+1 {
		p, err := t.cache.Alloc(first + i)
		if err != nil {
			return err
		}
		copy(p.Data, raw[off:])
		t.cache.Release(p)
	}
	return nil
}

func (t *Tree) readSuper() (*super, error) {
	first := t.alloc.FirstPage(t.root)
	p, err := t.cache.Get(first)
	if err != nil {
		return nil, err
	}
	raw := slices.Clone(p.Data)
	t.cache.Release(p)

	n, err := codec.RecordLen(raw)
	if err != nil {
		return nil, err
	}
	for i := uint64(1); len(raw) < n; i++ {
		p, err := t.cache.Get(first + i)
		if err != nil {
			return nil, err
		}
		raw = append(raw, p.Data...)
		t.cache.Release(p)
	}
	return decodeSuper(raw)
}

// Stats describes the tree's footprint.
type Stats struct {
	DiskUsage     uint64 `json:"disk_usage"`
	OwnedExtents  int    `json:"owned_extents"`
	Full          bool   `json:"full"`
	EngineMetrics string `json:"engine_metrics"`
}

// Stats returns the current footprint and the engine's metrics report.
func (t *Tree) Stats() Stats {
	if !t.open.Load() {
		return Stats{}
	}
	m := t.db.Metrics()
	t.mu.Lock()
	owned := len(t.super.Owned)
	t.mu.Unlock()
	return Stats{
		DiskUsage:     m.DiskSpaceUsage(),
		OwnedExtents:  owned,
		Full:          t.full.Load(),
		EngineMetrics: m.String(),
	}
}

// IsOpen reports whether the tree is mounted.
func (t *Tree) IsOpen() bool { return t.open.Load() }

// Unmount flushes the tree, records its footprint and closes the LSM.
func (t *Tree) Unmount() error {
	if !t.open.Swap(false) {
		return nil
	}

	var result error
	if err := t.db.Flush(); err != nil {
		result = ioError(err, "failed to flush tree")
	}
	if err := t.reconcile(); err != nil && !errors.Is(err, status.ErrNoSpace) {
		result = errors.CombineErrors(result, err)
	}
	if err := t.cache.Flush(); err != nil {
		result = errors.CombineErrors(result, err)
	}
	if err := t.db.Close(); err != nil {
		result = errors.CombineErrors(result, ioError(err, "failed to close tree"))
	}
	t.logger.Debug("tree unmounted", "dir", t.dbPath())
	return result
}
