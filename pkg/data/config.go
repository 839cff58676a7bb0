// Package data defines the contract an application implements to describe its
// keys and messages to SkadiDB, together with the provided implementations.
package data

import (
	"github.com/ssargent/skadidb/pkg/codec"
	"github.com/ssargent/skadidb/pkg/message"
	"github.com/ssargent/skadidb/pkg/status"
)

// Config describes an application's key space and merge policy. The store
// borrows a Config for its whole lifetime and never mutates it.
type Config interface {
	// KeySize is the largest key the application will use.
	KeySize() int
	MinKey() []byte
	MaxKey() []byte
	Compare(a, b []byte) int
	Hash(key []byte) uint64
	Classify(raw []byte) message.Kind
	Merge(key []byte, older, newer message.Message) (message.Message, error)
	MergeFinal(key []byte, oldest message.Message) (message.Message, error)
	KeyString(key []byte) string
	MessageString(m message.Message) string
}

// Namer is implemented by configs that want a stable name recorded on disk.
// A store created under one name refuses to mount under another.
type Namer interface {
	Name() string
}

// Name returns the recorded name of cfg, or "skadi.default" when it has none.
func Name(cfg Config) string {
	if n, ok := cfg.(Namer); ok && n.Name() != "" {
		return n.Name()
	}
	return "skadi.default"
}

// checker is implemented by configs that can be structurally incomplete.
type checker interface {
	Check() error
}

// Validate reports the first way cfg violates the Config contract.
func Validate(cfg Config) error {
	if cfg == nil {
		return status.InvalidArgumentf("data config is nil")
	}
	if c, ok := cfg.(checker); ok {
		if err := c.Check(); err != nil {
			return err
		}
	}

	ks := cfg.KeySize()
	if ks <= 0 || ks > codec.MaxKeySize {
		return status.InvalidArgumentf("key size %d out of range (0, %d]", ks, codec.MaxKeySize)
	}

	minKey, maxKey := cfg.MinKey(), cfg.MaxKey()
	if len(minKey) > ks {
		return status.InvalidArgumentf("min key length %d exceeds key size %d", len(minKey), ks)
	}
	if len(maxKey) > ks {
		return status.InvalidArgumentf("max key length %d exceeds key size %d", len(maxKey), ks)
	}
	if cfg.Compare(minKey, maxKey) >= 0 {
		return status.InvalidArgumentf("min key %s is not less than max key %s",
			cfg.KeyString(minKey), cfg.KeyString(maxKey))
	}
	return nil
}
