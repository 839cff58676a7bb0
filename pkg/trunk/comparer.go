package trunk

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/ssargent/skadidb/pkg/data"
)

// newComparer orders encoded key slots through cfg. Separator and Successor
// return their input unchanged, which is always a valid choice and keeps
// every key the engine sees a well-formed slot.
func newComparer(cfg data.Config) *pebble.Comparer {
	c := *pebble.DefaultComparer
	c.Name = data.Name(cfg) + ".comparer"
	c.Compare = func(a, b []byte) int {
		return compareSlots(cfg, a, b)
	}
	c.Equal = func(a, b []byte) bool {
		return compareSlots(cfg, a, b) == 0
	}
	c.AbbreviatedKey = func(key []byte) uint64 {
		return 0
	}
	c.Separator = func(dst, a, b []byte) []byte {
		return append(dst, a...)
	}
	c.Successor = func(dst, a []byte) []byte {
		return append(dst, a...)
	}
	c.Split = func(a []byte) int {
		return len(a)
	}
	c.FormatKey = func(key []byte) fmt.Formatter {
		return formattedKey{cfg: cfg, key: key}
	}
	return &c
}

// compareSlots tolerates the empty key, which the engine may use as an
// unbounded sentinel.
func compareSlots(cfg data.Config, a, b []byte) int {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return -1
	case len(b) == 0:
		return 1
	}
	return cfg.Compare(a, b)
}

type formattedKey struct {
	cfg data.Config
	key []byte
}

func (k formattedKey) Format(s fmt.State, verb rune) {
	if len(k.key) == 0 {
		fmt.Fprint(s, "<empty>")
		return
	}
	fmt.Fprint(s, k.cfg.KeyString(k.key))
}
