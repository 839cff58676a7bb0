package store

import (
	"log/slog"
	"math"
	"os"

	"github.com/ssargent/skadidb/pkg/data"
	"github.com/ssargent/skadidb/pkg/heap"
	"github.com/ssargent/skadidb/pkg/iodev"
	"github.com/ssargent/skadidb/pkg/status"
)

// Defaults applied by SetDefaults to zero-valued fields.
const (
	DefaultPageSize            = 4096
	DefaultExtentSize          = 128 * 1024
	DefaultIOFlags             = os.O_RDWR | os.O_CREATE
	DefaultIOPerms             = 0755
	DefaultIOQueueDepth        = 256
	DefaultMemtableCapacity    = 24 << 20
	DefaultFanout              = 8
	DefaultMaxBranchesPerNode  = 24
	DefaultRoughCountHeight    = 1
	DefaultFilterRemainderSize = 6
	DefaultFilterIndexSize     = 256
	DefaultReclaimThreshold    = math.MaxUint64
	DefaultShmemSize           = 256 << 20
	DefaultMaxThreads          = 64
)

// Config configures a store instance. Path, Data, CacheSize and DiskSize are
// required; every other zero field takes its default.
type Config struct {
	// Path is the directory backing the store.
	Path string
	// Data describes the application's keys and merge policy. It is
	// borrowed for the lifetime of the store.
	Data      data.Config
	CacheSize uint64
	DiskSize  uint64

	PageSize     int
	ExtentSize   int
	IOFlags      int
	IOPerms      os.FileMode
	IOQueueDepth int

	MemtableCapacity    uint64
	Fanout              int
	MaxBranchesPerNode  int
	RoughCountHeight    int
	FilterRemainderSize int
	FilterIndexSize     int
	ReclaimThreshold    uint64

	UseLog   bool
	UseStats bool

	UseShmem    bool
	ShmemSize   int
	Diagnostics heap.Diagnostics

	MaxThreads int
	// CheckKeyRange rejects keys outside [Data.MinKey(), Data.MaxKey()].
	CheckKeyRange bool

	Logger *slog.Logger

	// inject fails a lifecycle step by name before it runs.
	inject func(step string, s *Store) error
}

// SetDefaults fills zero-valued optional fields.
func (c *Config) SetDefaults() {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ExtentSize == 0 {
		c.ExtentSize = DefaultExtentSize
	}
	if c.IOFlags == 0 {
		c.IOFlags = DefaultIOFlags
	}
	if c.IOPerms == 0 {
		c.IOPerms = DefaultIOPerms
	}
	if c.IOQueueDepth == 0 {
		c.IOQueueDepth = DefaultIOQueueDepth
	}
	if c.MemtableCapacity == 0 {
		c.MemtableCapacity = DefaultMemtableCapacity
	}
	if c.Fanout == 0 {
		c.Fanout = DefaultFanout
	}
	if c.MaxBranchesPerNode == 0 {
		c.MaxBranchesPerNode = DefaultMaxBranchesPerNode
	}
	if c.RoughCountHeight == 0 {
		c.RoughCountHeight = DefaultRoughCountHeight
	}
	if c.FilterRemainderSize == 0 {
		c.FilterRemainderSize = DefaultFilterRemainderSize
	}
	if c.FilterIndexSize == 0 {
		c.FilterIndexSize = DefaultFilterIndexSize
	}
	if c.ReclaimThreshold == 0 {
		c.ReclaimThreshold = DefaultReclaimThreshold
	}
	if c.ShmemSize == 0 {
		c.ShmemSize = DefaultShmemSize
	}
	if c.MaxThreads == 0 {
		c.MaxThreads = DefaultMaxThreads
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// deviceConfig describes the device. Mounting never creates the device file.
func (c *Config) deviceConfig(create bool) iodev.Config {
	flags := c.IOFlags
	if !create {
		flags &^= os.O_CREATE
	}
	return iodev.Config{
		Dir:        c.Path,
		PageSize:   c.PageSize,
		ExtentSize: c.ExtentSize,
		Flags:      flags,
		Perms:      c.IOPerms,
		QueueDepth: c.IOQueueDepth,
		Logger:     c.Logger,
	}
}

// validate checks c after defaults have been applied.
func (c *Config) validate() error {
	if err := data.Validate(c.Data); err != nil {
		return err
	}
	switch {
	case c.Path == "":
		return status.InvalidArgumentf("store path is required")
	case c.CacheSize == 0:
		return status.InvalidArgumentf("cache size is required")
	case c.DiskSize == 0:
		return status.InvalidArgumentf("disk size is required")
	case c.MaxThreads < 0:
		return status.InvalidArgumentf("max threads %d must be positive", c.MaxThreads)
	}
	return c.deviceConfig(true).Validate()
}
