// Package cache buffers device pages and owns the block cache shared with the
// tree engine.
//
// A page lives in exactly one place: pinned or dirty pages are held in a map
// owned by the cache; clean unpinned pages are handed to Ristretto, which may
// evict them at any time since the device already holds their contents.
package cache

import (
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/btree"

	"github.com/ssargent/skadidb/pkg/status"
)

const (
	minPages = 16
	// minBlocks keeps the block cache usable under tiny budgets.
	minBlocks = 1 << 20
	// pageShare is the fraction of the budget given to device pages; the
	// rest becomes the tree engine's block cache.
	pageShare = 16
)

// Device is the page I/O the cache needs.
type Device interface {
	PageSize() int
	ReadPage(id uint64, buf []byte) error
	WritePage(id uint64, buf []byte) error
	Sync() error
}

// Config sets the memory budget in bytes.
type Config struct {
	Size   int64
	Logger *slog.Logger
}

// Page is a pinned device page. Data may be modified while pinned as long as
// MarkDirty is called before Release.
type Page struct {
	ID   uint64
	Data []byte

	pins  int
	dirty bool
}

// Stats reports cache activity.
type Stats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Pinned     int    `json:"pinned"`
	Dirty      int    `json:"dirty"`
	PageBudget int64  `json:"page_budget"`
	BlockCache int64  `json:"block_cache"`
}

// Cache is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	dev    Device
	logger *slog.Logger
	clean  *ristretto.Cache[uint64, *Page]
	held   map[uint64]*Page
	dirty  *btree.BTreeG[uint64]
	blocks *pebble.Cache
	budget int64
	hits   uint64
	misses uint64
	open   bool
}

// New splits cfg.Size between device pages and the tree block cache.
func New(cfg Config, dev Device) (*Cache, error) {
	if cfg.Size <= 0 {
		return nil, status.InvalidArgumentf("cache size %d must be positive", cfg.Size)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pageSize := int64(dev.PageSize())
	budget := max(cfg.Size/pageShare, minPages*pageSize)
	blockBytes := max(cfg.Size-budget, minBlocks)

	clean, err := ristretto.NewCache(&ristretto.Config[uint64, *Page]{
		NumCounters:        10 * (budget / pageSize),
		MaxCost:            budget,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrapf(status.ErrNoMemory, "failed to create page cache: %v", err)
	}

	logger.Debug("cache created", "page_budget", budget, "block_cache", blockBytes)
	return &Cache{
		dev:    dev,
		logger: logger,
		clean:  clean,
		held:   make(map[uint64]*Page),
		dirty:  btree.NewOrderedG[uint64](16),
		blocks: pebble.NewCache(blockBytes),
		budget: budget,
		open:   true,
	}, nil
}

// Blocks is the block cache for the tree engine. The cache keeps its own
// reference; callers that hold on to it past Close must Ref it themselves.
func (c *Cache) Blocks() *pebble.Cache { return c.blocks }

func (c *Cache) checkOpen() error {
	if !c.open {
		return status.InvalidStatef("cache is closed")
	}
	return nil
}

// Get pins page id, reading it from the device on a miss.
func (c *Cache) Get(id uint64) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	if p, ok := c.held[id]; ok {
		c.hits++
		p.pins++
		return p, nil
	}
	if p, ok := c.clean.Get(id); ok {
		c.hits++
		c.clean.Del(id)
		p.pins = 1
		c.held[id] = p
		return p, nil
	}

	c.misses++
	p := &Page{ID: id, Data: make([]byte, c.dev.PageSize()), pins: 1}
	if err := c.dev.ReadPage(id, p.Data); err != nil {
		return nil, err
	}
	c.held[id] = p
	return p, nil
}

// Alloc pins page id with zeroed contents without reading the device. The
// page starts dirty.
func (c *Cache) Alloc(id uint64) (*Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	p, ok := c.held[id]
	if ok {
		p.pins++
		clear(p.Data)
	} else {
		c.clean.Del(id)
		p = &Page{ID: id, Data: make([]byte, c.dev.PageSize()), pins: 1}
		c.held[id] = p
	}
	c.markDirty(p)
	return p, nil
}

// MarkDirty schedules p for write-back.
func (c *Cache) MarkDirty(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markDirty(p)
}

func (c *Cache) markDirty(p *Page) {
	if p.pins <= 0 {
		panic(errors.AssertionFailedf("page %d marked dirty while unpinned", p.ID))
	}
	if !p.dirty {
		p.dirty = true
		c.dirty.ReplaceOrInsert(p.ID)
	}
}

// Release unpins p.
func (c *Cache) Release(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.pins <= 0 {
		panic(errors.AssertionFailedf("page %d released more times than pinned", p.ID))
	}
	p.pins--
	if p.pins == 0 && !p.dirty {
		c.demote(p)
	}
}

// demote hands a clean unpinned page to the eviction-managed cache.
func (c *Cache) demote(p *Page) {
	delete(c.held, p.ID)
	if c.open {
		c.clean.Set(p.ID, p, int64(len(p.Data)))
		c.clean.Wait()
	}
}

// Flush writes dirty pages in ascending page order and syncs the device.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.flushLocked()
}

func (c *Cache) flushLocked() error {
	var err error
	var written []uint64
	c.dirty.Ascend(func(id uint64) bool {
		p := c.held[id]
		if err = c.dev.WritePage(id, p.Data); err != nil {
			return false
		}
		written = append(written, id)
		return true
	})
	for _, id := range written {
		c.dirty.Delete(id)
		p := c.held[id]
		p.dirty = false
		if p.pins == 0 {
			c.demote(p)
		}
	}
	if err != nil {
		return err
	}
	if len(written) > 0 {
		c.logger.Debug("cache flushed", "pages", len(written))
	}
	return c.dev.Sync()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	pinned := 0
	for _, p := range c.held {
		if p.pins > 0 {
			pinned++
		}
	}
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Pinned:     pinned,
		Dirty:      c.dirty.Len(),
		PageBudget: c.budget,
		BlockCache: c.blocks.MaxSize(),
	}
}

// IsOpen reports whether the cache has not been closed.
func (c *Cache) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close writes back dirty pages and frees the cache. Pages still pinned are
// reported as leaked.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}

	result := c.flushLocked()
	pinned := 0
	for _, p := range c.held {
		if p.pins > 0 {
			pinned++
		}
	}
	if pinned > 0 {
		c.logger.Warn("cache closed with pinned pages", "pages", pinned)
		result = errors.CombineErrors(result, status.InvalidStatef("%d pages still pinned", pinned))
	}

	c.open = false
	c.held = nil
	c.dirty.Clear(false)
	c.clean.Close()
	c.blocks.Unref()
	return result
}
