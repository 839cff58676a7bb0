// Package allocator hands out reference-counted extents of the device.
//
// Device layout:
//
//	page 0             superblock record (identity, geometry, roots)
//	pages 1..n         reference count table, one byte per extent
//	extents [0, meta)  reserved for the above
package allocator

import (
	"log/slog"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"

	"github.com/ssargent/skadidb/pkg/codec"
	"github.com/ssargent/skadidb/pkg/status"
)

const superblockVersion = 1

// Device is the page I/O the allocator needs.
type Device interface {
	PageSize() int
	ExtentSize() int
	ReadPage(id uint64, buf []byte) error
	WritePage(id uint64, buf []byte) error
	Sync() error
}

// Config sets the device budget.
type Config struct {
	// Capacity is the device size in bytes.
	Capacity uint64
	Logger   *slog.Logger
}

// Allocator tracks extent ownership. It is safe for concurrent use.
type Allocator struct {
	mu       sync.Mutex
	dev      Device
	logger   *slog.Logger
	codec    *codec.RecordCodec
	id       ksuid.KSUID
	capacity uint64
	extents  uint64
	meta     uint64
	refs     []uint8
	roots    map[uint64]uint64
	hint     uint64
	inUse    uint64
	dirty    bool
	open     bool
}

func newAllocator(dev Device, cfg Config) (*Allocator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	extentSize := uint64(dev.ExtentSize())
	extents := cfg.Capacity / extentSize
	tablePages := (extents + uint64(dev.PageSize()) - 1) / uint64(dev.PageSize())
	metaBytes := (1 + tablePages) * uint64(dev.PageSize())
	meta := (metaBytes + extentSize - 1) / extentSize
	if extents <= meta {
		return nil, status.InvalidArgumentf(
			"disk size %d holds %d extents of %d bytes, need more than %d", cfg.Capacity, extents, extentSize, meta)
	}

	return &Allocator{
		dev:      dev,
		logger:   logger,
		codec:    codec.NewRecordCodec(),
		capacity: cfg.Capacity,
		extents:  extents,
		meta:     meta,
		refs:     make([]uint8, extents),
		roots:    make(map[uint64]uint64),
	}, nil
}

// Init formats a fresh allocator on dev. It refuses a device whose first
// page already holds a record, so an existing store is never overwritten.
func Init(dev Device, cfg Config) (*Allocator, error) {
	a, err := newAllocator(dev, cfg)
	if err != nil {
		return nil, err
	}

	page := make([]byte, dev.PageSize())
	if err := dev.ReadPage(0, page); err != nil {
		return nil, err
	}
	if _, err := a.codec.Decode(page); !errors.Is(err, codec.ErrBlankRecord) {
		return nil, errors.WithHint(
			errors.Wrap(status.ErrInvalidState, "device is already formatted"),
			"open the existing store or remove its directory first")
	}

	a.id = ksuid.New()
	for i := uint64(0); i < a.meta; i++ {
		a.refs[i] = 1
	}
	a.inUse = a.meta
	a.hint = a.meta
	a.dirty = true
	a.open = true

	if err := a.Sync(); err != nil {
		return nil, errors.Wrap(err, "failed to format allocator")
	}
	a.logger.Info("allocator formatted", "device_id", a.id.String(), "extents", a.extents)
	return a, nil
}

// Mount loads an allocator previously formatted on dev. It fails with a
// not-found error when dev was never formatted and a bad-state error when the
// recorded geometry differs from dev and cfg.
func Mount(dev Device, cfg Config) (*Allocator, error) {
	a, err := newAllocator(dev, cfg)
	if err != nil {
		return nil, err
	}

	page := make([]byte, dev.PageSize())
	if err := dev.ReadPage(0, page); err != nil {
		return nil, err
	}
	rec, err := a.codec.Decode(page)
	if err != nil {
		if errors.Is(err, codec.ErrBlankRecord) {
			return nil, errors.Wrap(err, "device has no superblock")
		}
		return nil, errors.Wrap(err, "failed to read superblock")
	}
	if rec.Type != codec.RecordSuperblock {
		return nil, status.InvalidStatef("page 0 holds record type %d, not a superblock", rec.Type)
	}
	if err := a.decodeSuperblock(rec.Payload); err != nil {
		return nil, err
	}

	for p := uint64(0); p*uint64(dev.PageSize()) < a.extents; p++ {
		if err := dev.ReadPage(1+p, page); err != nil {
			return nil, err
		}
		copy(a.refs[p*uint64(dev.PageSize()):], page)
	}
	for _, r := range a.refs {
		if r > 0 {
			a.inUse++
		}
	}
	a.hint = a.meta
	a.open = true
	a.logger.Info("allocator mounted", "device_id", a.id.String(), "extents", a.extents, "in_use", a.inUse)
	return a, nil
}

func (a *Allocator) encodeSuperblock() []byte {
	var w codec.FieldWriter
	w.Bytes(a.id.Bytes())
	w.Uint32(uint32(a.dev.PageSize()))
	w.Uint32(uint32(a.dev.ExtentSize()))
	w.Uint64(a.capacity)
	w.Uint64(uint64(len(a.roots)))
	for id, ext := range a.roots {
		w.Uint64(id)
		w.Uint64(ext)
	}
	return a.codec.Encode(codec.RecordSuperblock, superblockVersion, w.Payload())
}

func (a *Allocator) decodeSuperblock(payload []byte) error {
	r := codec.NewFieldReader(payload)
	rawID := r.Bytes()
	pageSize := r.Uint32()
	extentSize := r.Uint32()
	capacity := r.Uint64()
	n := r.Uint64()
	for i := uint64(0); i < n && r.Err() == nil; i++ {
		id := r.Uint64()
		a.roots[id] = r.Uint64()
	}
	if err := r.Err(); err != nil {
		return errors.Wrap(err, "corrupt superblock")
	}

	id, err := ksuid.FromBytes(rawID)
	if err != nil {
		return status.InvalidStatef("corrupt device id: %v", err)
	}
	a.id = id

	if int(pageSize) != a.dev.PageSize() || int(extentSize) != a.dev.ExtentSize() || capacity != a.capacity {
		return status.InvalidStatef(
			"device geometry mismatch: recorded page=%d extent=%d disk=%d, configured page=%d extent=%d disk=%d",
			pageSize, extentSize, capacity, a.dev.PageSize(), a.dev.ExtentSize(), a.capacity)
	}
	return nil
}

func (a *Allocator) checkOpen() error {
	if !a.open {
		return status.InvalidStatef("allocator is not mounted")
	}
	return nil
}

func (a *Allocator) checkExtent(ext uint64) error {
	if ext < a.meta || ext >= a.extents {
		return status.InvalidArgumentf("extent %d outside allocatable range [%d, %d)", ext, a.meta, a.extents)
	}
	return nil
}

// Alloc claims a free extent with a reference count of one.
func (a *Allocator) Alloc() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return 0, err
	}

	for i := uint64(0); i < a.extents-a.meta; i++ {
		ext := a.meta + (a.hint-a.meta+i)%(a.extents-a.meta)
		if a.refs[ext] == 0 {
			a.refs[ext] = 1
			a.inUse++
			a.hint = ext + 1
			if a.hint >= a.extents {
				a.hint = a.meta
			}
			a.dirty = true
			return ext, nil
		}
	}
	return 0, errors.Wrapf(status.ErrNoSpace, "all %d extents are allocated", a.extents)
}

// IncRef adds a reference to an allocated extent.
func (a *Allocator) IncRef(ext uint64) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	if err := a.checkExtent(ext); err != nil {
		return 0, err
	}
	switch a.refs[ext] {
	case 0:
		return 0, status.InvalidArgumentf("extent %d is not allocated", ext)
	case math.MaxUint8:
		return 0, status.InvalidStatef("extent %d reference count saturated", ext)
	}
	a.refs[ext]++
	a.dirty = true
	return a.refs[ext], nil
}

// DecRef drops a reference. The extent is free once the count reaches zero.
func (a *Allocator) DecRef(ext uint64) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return 0, err
	}
	if err := a.checkExtent(ext); err != nil {
		return 0, err
	}
	if a.refs[ext] == 0 {
		return 0, status.InvalidArgumentf("extent %d is not allocated", ext)
	}
	a.refs[ext]--
	if a.refs[ext] == 0 {
		a.inUse--
	}
	a.dirty = true
	return a.refs[ext], nil
}

// RefCount returns the reference count of ext.
func (a *Allocator) RefCount(ext uint64) uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ext >= a.extents {
		return 0
	}
	return a.refs[ext]
}

// SetRoot records the root extent of tree id.
func (a *Allocator) SetRoot(id, ext uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	a.roots[id] = ext
	a.dirty = true
	return nil
}

// ClearRoot forgets the root of tree id.
func (a *Allocator) ClearRoot(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.roots[id]; ok {
		delete(a.roots, id)
		a.dirty = true
	}
}

// Root returns the root extent recorded for tree id.
func (a *Allocator) Root(id uint64) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ext, ok := a.roots[id]
	return ext, ok
}

// FirstPage returns the page id at the start of ext.
func (a *Allocator) FirstPage(ext uint64) uint64 {
	return ext * uint64(a.dev.ExtentSize()/a.dev.PageSize())
}

// ExtentSize is the allocation unit in bytes.
func (a *Allocator) ExtentSize() uint64 { return uint64(a.dev.ExtentSize()) }

// InUse is the number of allocated extents, including metadata.
func (a *Allocator) InUse() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Capacity is the total number of extents on the device.
func (a *Allocator) Capacity() uint64 { return a.extents }

// DeviceID identifies the formatted device.
func (a *Allocator) DeviceID() ksuid.KSUID { return a.id }

// Sync persists the superblock and reference counts.
func (a *Allocator) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	return a.syncLocked()
}

func (a *Allocator) syncLocked() error {
	if !a.dirty {
		return nil
	}
	pageSize := a.dev.PageSize()
	page := make([]byte, pageSize)

	sb := a.encodeSuperblock()
	if len(sb) > pageSize {
		return status.InvalidStatef("superblock of %d bytes exceeds page size %d", len(sb), pageSize)
	}
	copy(page, sb)
	if err := a.dev.WritePage(0, page); err != nil {
		return err
	}

	for off := 0; off < len(a.refs); off += pageSize {
		clear(page)
		copy(page, a.refs[off:])
		if err := a.dev.WritePage(1+uint64(off/pageSize), page); err != nil {
			return err
		}
	}
	if err := a.dev.Sync(); err != nil {
		return err
	}
	a.dirty = false
	return nil
}

// IsOpen reports whether the allocator is mounted.
func (a *Allocator) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// Discard erases the superblock and detaches without persisting, leaving the
// device unformatted. It undoes Init when a later step of a create fails.
func (a *Allocator) Discard() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil
	}
	a.open = false
	if err := a.dev.WritePage(0, make([]byte, a.dev.PageSize())); err != nil {
		return errors.Wrap(err, "failed to erase superblock")
	}
	if err := a.dev.Sync(); err != nil {
		return err
	}
	a.logger.Debug("allocator discarded", "device_id", a.id.String())
	return nil
}

// Unmount persists state and detaches from the device.
func (a *Allocator) Unmount() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil
	}
	a.open = false
	if err := a.syncLocked(); err != nil {
		return errors.Wrap(err, "failed to sync allocator on unmount")
	}
	a.logger.Debug("allocator unmounted", "device_id", a.id.String(), "in_use", a.inUse)
	return nil
}
