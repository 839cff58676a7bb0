// Package shim adapts an application data config to the fixed-width,
// length-prefixed keys stored by the tree engine.
package shim

import (
	"github.com/ssargent/skadidb/pkg/codec"
	"github.com/ssargent/skadidb/pkg/data"
	"github.com/ssargent/skadidb/pkg/message"
	"github.com/ssargent/skadidb/pkg/status"
)

// Config presents an application config in terms of encoded key slots. It
// decodes slots before calling the application and passes payloads through
// untouched. The application config is borrowed, not owned.
type Config struct {
	app        data.Config
	appKeySize int
	minKey     codec.EncodedKey
	maxKey     codec.EncodedKey
}

var _ data.Config = (*Config)(nil)

// New builds the shim for app.
func New(app data.Config) (*Config, error) {
	if app == nil {
		return nil, status.InvalidArgumentf("data config is nil")
	}
	c := &Config{app: app, appKeySize: app.KeySize()}
	if c.appKeySize <= 0 || c.appKeySize > codec.MaxKeySize {
		return nil, status.InvalidArgumentf("key size %d out of range (0, %d]", c.appKeySize, codec.MaxKeySize)
	}

	var err error
	if c.minKey, err = codec.EncodeKey(app.MinKey()); err != nil {
		return nil, err
	}
	if c.maxKey, err = codec.EncodeKey(app.MaxKey()); err != nil {
		return nil, err
	}
	if c.minKey.Len() > c.appKeySize || c.maxKey.Len() > c.appKeySize {
		return nil, status.InvalidArgumentf("min/max key longer than key size %d", c.appKeySize)
	}
	return c, nil
}

// App returns the wrapped application config.
func (c *Config) App() data.Config { return c.app }

// AppKeySize is the application's key size.
func (c *Config) AppKeySize() int { return c.appKeySize }

// KeySize is the slot width: the application key size plus the length byte.
func (c *Config) KeySize() int { return codec.SlotWidth(c.appKeySize) }

func (c *Config) MinKey() []byte { return c.minKey.Slot(c.KeySize()) }

func (c *Config) MaxKey() []byte { return c.maxKey.Slot(c.KeySize()) }

// EncodeKey returns a freshly allocated slot for raw.
func (c *Config) EncodeKey(raw []byte) ([]byte, error) {
	if len(raw) > c.appKeySize {
		return nil, status.InvalidArgumentf("key length %d exceeds key size %d", len(raw), c.appKeySize)
	}
	ek, err := codec.EncodeKey(raw)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), ek.Slot(c.KeySize())...), nil
}

// DecodeKey returns the application key held in slot.
func (c *Config) DecodeKey(slot []byte) []byte {
	return codec.DecodeKey(slot, c.appKeySize)
}

// InRange reports whether the application key raw lies within [min, max].
func (c *Config) InRange(raw []byte) bool {
	return c.app.Compare(c.minKey.Raw(), raw) <= 0 && c.app.Compare(raw, c.maxKey.Raw()) <= 0
}

func (c *Config) Compare(a, b []byte) int {
	return codec.CompareKeys(a, b, c.appKeySize, c.app.Compare)
}

func (c *Config) Hash(key []byte) uint64 {
	return c.app.Hash(c.DecodeKey(key))
}

func (c *Config) Classify(raw []byte) message.Kind {
	return c.app.Classify(raw)
}

// Merge folds older underneath newer. Only an Update newer reaches the
// application merge.
func (c *Config) Merge(key []byte, older, newer message.Message) (message.Message, error) {
	if newer.Kind != message.Update {
		return newer, nil
	}
	return message.Apply(c.app.Merge, c.DecodeKey(key), older, newer)
}

// MergeFinal resolves an Update that has no older history.
func (c *Config) MergeFinal(key []byte, oldest message.Message) (message.Message, error) {
	if oldest.Kind != message.Update {
		return oldest, nil
	}
	return message.Finish(c.app.MergeFinal, c.DecodeKey(key), oldest)
}

func (c *Config) KeyString(key []byte) string {
	return c.app.KeyString(c.DecodeKey(key))
}

func (c *Config) MessageString(m message.Message) string {
	return c.app.MessageString(m)
}

// Name is the application config's recorded name.
func (c *Config) Name() string {
	return data.Name(c.app)
}
