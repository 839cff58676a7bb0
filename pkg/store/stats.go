package store

import (
	"sync/atomic"

	"github.com/ssargent/skadidb/pkg/cache"
	"github.com/ssargent/skadidb/pkg/message"
	"github.com/ssargent/skadidb/pkg/status"
	"github.com/ssargent/skadidb/pkg/trunk"
)

// counters are maintained only when UseStats is set.
type counters struct {
	enabled    bool
	inserts    atomic.Uint64
	updates    atomic.Uint64
	deletes    atomic.Uint64
	lookups    atomic.Uint64
	lookupHits atomic.Uint64
}

func (c *counters) mutation(kind message.Kind) {
	if !c.enabled {
		return
	}
	switch kind {
	case message.Insert:
		c.inserts.Add(1)
	case message.Update:
		c.updates.Add(1)
	case message.Delete:
		c.deletes.Add(1)
	}
}

func (c *counters) lookup(found bool) {
	if !c.enabled {
		return
	}
	c.lookups.Add(1)
	if found {
		c.lookupHits.Add(1)
	}
}

// Stats is a point-in-time view of an instance.
type Stats struct {
	Inserts    uint64 `json:"inserts"`
	Updates    uint64 `json:"updates"`
	Deletes    uint64 `json:"deletes"`
	Lookups    uint64 `json:"lookups"`
	LookupHits uint64 `json:"lookup_hits"`

	ExtentsInUse uint64 `json:"extents_in_use"`
	ExtentsTotal uint64 `json:"extents_total"`
	ThreadsInUse int    `json:"threads_in_use"`

	Cache cache.Stats `json:"cache"`
	Tree  trunk.Stats `json:"tree"`
}

// Stats reports operation counters and subsystem usage. Operation counters
// stay zero unless the store was opened with UseStats.
func (s *Store) Stats() (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return &Stats{
		Inserts:      s.stats.inserts.Load(),
		Updates:      s.stats.updates.Load(),
		Deletes:      s.stats.deletes.Load(),
		Lookups:      s.stats.lookups.Load(),
		LookupHits:   s.stats.lookupHits.Load(),
		ExtentsInUse: s.alloc.InUse(),
		ExtentsTotal: s.alloc.Capacity(),
		ThreadsInUse: s.tasks.Registered(),
		Cache:        s.cache.Stats(),
		Tree:         s.tree.Stats(),
	}, nil
}

// ResetStats zeroes the operation counters.
func (s *Store) ResetStats() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !s.cfg.UseStats {
		return status.InvalidStatef("store was opened without stats")
	}
	s.stats.inserts.Store(0)
	s.stats.updates.Store(0)
	s.stats.deletes.Store(0)
	s.stats.lookups.Store(0)
	s.stats.lookupHits.Store(0)
	return nil
}
