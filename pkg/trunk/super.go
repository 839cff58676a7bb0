package trunk

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/skadidb/pkg/codec"
	"github.com/ssargent/skadidb/pkg/status"
)

const superVersion = 1

// super is the tree's persistent descriptor, stored at the start of its root
// extent.
type super struct {
	TreeID           uint64
	Dir              string
	Comparer         string
	Merger           string
	DeviceID         []byte
	KeySize          uint32
	RoughCountHeight uint32
	FilterIndexSize  uint32
	// Owned lists the data extents charged to the tree, ascending.
	Owned []uint64
}

func (s *super) encode() []byte {
	var w codec.FieldWriter
	w.Uint64(s.TreeID)
	w.Text(s.Dir)
	w.Text(s.Comparer)
	w.Text(s.Merger)
	w.Bytes(s.DeviceID)
	w.Uint32(s.KeySize)
	w.Uint32(s.RoughCountHeight)
	w.Uint32(s.FilterIndexSize)

	// Extents are mostly allocated back to back, so store them as runs.
	runs := toRuns(s.Owned)
	w.Uint64(uint64(len(runs)))
	for _, r := range runs {
		w.Uint64(r[0])
		w.Uint64(r[1])
	}
	return codec.NewRecordCodec().Encode(codec.RecordTree, superVersion, w.Payload())
}

func decodeSuper(raw []byte) (*super, error) {
	rec, err := codec.NewRecordCodec().Decode(raw)
	if err != nil {
		return nil, err
	}
	if rec.Type != codec.RecordTree {
		return nil, status.InvalidStatef("root extent holds record type %d, not a tree", rec.Type)
	}

	r := codec.NewFieldReader(rec.Payload)
	s := &super{
		TreeID:           r.Uint64(),
		Dir:              r.Text(),
		Comparer:         r.Text(),
		Merger:           r.Text(),
		DeviceID:         r.Bytes(),
		KeySize:          r.Uint32(),
		RoughCountHeight: r.Uint32(),
		FilterIndexSize:  r.Uint32(),
	}
	n := r.Uint64()
	for i := uint64(0); i < n && r.Err() == nil; i++ {
		start, length := r.Uint64(), r.Uint64()
		for e := start; e < start+length; e++ {
			s.Owned = append(s.Owned, e)
		}
	}
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(err, "corrupt tree record")
	}
	return s, nil
}

// toRuns collapses sorted extents into [start, length] pairs.
func toRuns(exts []uint64) [][2]uint64 {
	sorted := slices.Clone(exts)
	slices.Sort(sorted)
	var runs [][2]uint64
	for _, e := range sorted {
		if n := len(runs); n > 0 && runs[n-1][0]+runs[n-1][1] == e {
			runs[n-1][1]++
			continue
		}
		runs = append(runs, [2]uint64{e, 1})
	}
	return runs
}
