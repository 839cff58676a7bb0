// Package iodev provides page-granular access to the SkadiDB device file.
package iodev

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/ssargent/skadidb/pkg/status"
)

const (
	// DeviceFile holds every page managed by the allocator and page cache.
	DeviceFile = "skadi.dev"
	// LockFile guards the directory against a second instance.
	LockFile = "DEVICE.LOCK"

	MinPageSize = 512
	MaxPageSize = 64 * 1024
)

// Config describes the device.
type Config struct {
	Dir        string
	PageSize   int
	ExtentSize int
	Flags      int
	Perms      os.FileMode
	QueueDepth int
	Logger     *slog.Logger
}

// Validate checks the geometry and queue parameters.
func (c Config) Validate() error {
	if c.Dir == "" {
		return status.InvalidArgumentf("device directory is required")
	}
	if c.PageSize < MinPageSize || c.PageSize > MaxPageSize || c.PageSize&(c.PageSize-1) != 0 {
		return status.InvalidArgumentf("page size %d must be a power of two in [%d, %d]", c.PageSize, MinPageSize, MaxPageSize)
	}
	if c.ExtentSize < c.PageSize || c.ExtentSize%c.PageSize != 0 {
		return status.InvalidArgumentf("extent size %d must be a positive multiple of page size %d", c.ExtentSize, c.PageSize)
	}
	if c.QueueDepth <= 0 {
		return status.InvalidArgumentf("queue depth %d must be positive", c.QueueDepth)
	}
	return nil
}

// Device is an open device file. Page reads and writes may be issued
// concurrently; at most QueueDepth are in flight at once.
type Device struct {
	cfg    Config
	file   *os.File
	lock   io.Closer
	slots  chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open locks cfg.Dir and opens the device file inside it. Without
// os.O_CREATE in cfg.Flags a missing device is reported as not found and
// nothing is created.
func Open(cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(cfg.Dir, DeviceFile)
	if cfg.Flags&os.O_CREATE == 0 {
		// Nothing is created on disk when the device must already exist.
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrapf(status.ErrNotFound, "device file %s does not exist", path)
			}
			return nil, errors.Wrapf(status.ErrIO, "failed to stat device file %s: %v", path, err)
		}
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.Wrapf(status.ErrIO, "failed to create device directory %s: %v", cfg.Dir, err)
	}
	lock, err := vfs.Default.Lock(filepath.Join(cfg.Dir, LockFile))
	if err != nil {
		return nil, errors.Wrapf(status.ErrBusy, "failed to lock device directory %s: %v", cfg.Dir, err)
	}

	file, err := os.OpenFile(path, cfg.Flags, cfg.Perms)
	if err != nil {
		_ = lock.Close()
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(status.ErrNotFound, "device file %s: %v", path, err)
		}
		return nil, errors.Wrapf(status.ErrIO, "failed to open device file %s: %v", path, err)
	}

	logger.Debug("device opened", "path", path, "page_size", cfg.PageSize, "queue_depth", cfg.QueueDepth)
	return &Device{
		cfg:    cfg,
		file:   file,
		lock:   lock,
		slots:  make(chan struct{}, cfg.QueueDepth),
		logger: logger,
	}, nil
}

// PageSize returns the device page size.
func (d *Device) PageSize() int { return d.cfg.PageSize }

// ExtentSize returns the device extent size.
func (d *Device) ExtentSize() int { return d.cfg.ExtentSize }

// Dir returns the directory holding the device.
func (d *Device) Dir() string { return d.cfg.Dir }

func (d *Device) begin(buf []byte) error {
	if len(buf) != d.cfg.PageSize {
		return status.InvalidArgumentf("page buffer of %d bytes, want %d", len(buf), d.cfg.PageSize)
	}
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return status.InvalidStatef("device is closed")
	}
	d.slots <- struct{}{}
	return nil
}

func (d *Device) end() {
	<-d.slots
	d.mu.RUnlock()
}

// ReadPage fills buf with page id. Pages past the end of the file read as
// zeros.
func (d *Device) ReadPage(id uint64, buf []byte) error {
	if err := d.begin(buf); err != nil {
		return err
	}
	defer d.end()

	n, err := d.file.ReadAt(buf, int64(id)*int64(d.cfg.PageSize))
	if err != nil && err != io.EOF {
		return errors.Wrapf(status.ErrIO, "failed to read page %d: %v", id, err)
	}
	clear(buf[n:])
	return nil
}

// WritePage writes buf as page id.
func (d *Device) WritePage(id uint64, buf []byte) error {
	if err := d.begin(buf); err != nil {
		return err
	}
	defer d.end()

	if _, err := d.file.WriteAt(buf, int64(id)*int64(d.cfg.PageSize)); err != nil {
		return errors.Wrapf(status.ErrIO, "failed to write page %d: %v", id, err)
	}
	return nil
}

// Sync flushes written pages to stable storage.
func (d *Device) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return status.InvalidStatef("device is closed")
	}
	if err := d.file.Sync(); err != nil {
		return errors.Wrapf(status.ErrIO, "failed to sync device: %v", err)
	}
	return nil
}

// IsOpen reports whether the device still holds its file and lock.
func (d *Device) IsOpen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.closed
}

// Close waits for in-flight I/O, then closes the file and releases the lock.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var result error
	if err := d.file.Close(); err != nil {
		result = errors.Wrapf(status.ErrIO, "failed to close device file: %v", err)
	}
	if err := d.lock.Close(); err != nil {
		result = errors.CombineErrors(result, errors.Wrapf(status.ErrIO, "failed to release device lock: %v", err))
	}
	d.logger.Debug("device closed", "dir", d.cfg.Dir)
	return result
}
