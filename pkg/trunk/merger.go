package trunk

import (
	"io"

	"github.com/cockroachdb/pebble"

	"github.com/ssargent/skadidb/pkg/data"
	"github.com/ssargent/skadidb/pkg/message"
)

// newMerger folds Update operands through cfg. Pebble presents operands
// newest-first on reads and oldest-first during compactions; both directions
// funnel into cfg.Merge with (older, newer) ordering.
func newMerger(cfg data.Config) *pebble.Merger {
	return &pebble.Merger{
		Name: data.Name(cfg) + ".merger",
		Merge: func(key, value []byte) (pebble.ValueMerger, error) {
			return &valueMerger{
				cfg: cfg,
				key: append([]byte(nil), key...),
				acc: message.Decode(value, cfg.Classify).Clone(),
			}, nil
		},
	}
}

type valueMerger struct {
	cfg data.Config
	key []byte
	acc message.Message
}

func (m *valueMerger) MergeNewer(value []byte) error {
	newer := message.Decode(value, m.cfg.Classify).Clone()
	acc, err := m.cfg.Merge(m.key, m.acc, newer)
	if err != nil {
		return err
	}
	m.acc = acc
	return nil
}

func (m *valueMerger) MergeOlder(value []byte) error {
	older := message.Decode(value, m.cfg.Classify)
	acc, err := m.cfg.Merge(m.key, older, m.acc)
	if err != nil {
		return err
	}
	m.acc = acc.Clone()
	return nil
}

// Finish applies MergeFinal once the oldest version of the key has been
// folded in.
func (m *valueMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	acc := m.acc
	if includesBase {
		var err error
		if acc, err = m.cfg.MergeFinal(m.key, acc); err != nil {
			return nil, nil, err
		}
	}
	return message.Encode(nil, acc), nil, nil
}
