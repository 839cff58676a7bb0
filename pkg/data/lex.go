package data

import (
	"bytes"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"

	"github.com/ssargent/skadidb/pkg/message"
)

// Lex orders keys as unsigned byte strings and uses the default merge
// policy. Its key space runs from the empty key up to Size bytes of 0xff.
type Lex struct {
	Size int
}

// NewLex returns a lexicographic config for keys of up to size bytes.
func NewLex(size int) *Lex {
	return &Lex{Size: size}
}

func (l *Lex) KeySize() int { return l.Size }

func (l *Lex) MinKey() []byte { return []byte{} }

func (l *Lex) MaxKey() []byte { return bytes.Repeat([]byte{0xff}, l.Size) }

func (l *Lex) Compare(a, b []byte) int { return bytes.Compare(a, b) }

func (l *Lex) Hash(key []byte) uint64 { return xxhash.Sum64(key) }

func (l *Lex) Classify(raw []byte) message.Kind { return message.Classify(raw) }

func (l *Lex) Merge(key []byte, older, newer message.Message) (message.Message, error) {
	return message.DefaultMerge(key, older, newer)
}

func (l *Lex) MergeFinal(key []byte, oldest message.Message) (message.Message, error) {
	return message.DefaultMergeFinal(key, oldest)
}

// KeyString prints printable keys as-is and anything else in hex.
func (l *Lex) KeyString(key []byte) string {
	for _, c := range key {
		if c < 0x20 || c > 0x7e {
			return "0x" + hex.EncodeToString(key)
		}
	}
	return string(key)
}

func (l *Lex) MessageString(m message.Message) string { return m.String() }

func (l *Lex) Name() string { return "skadi.lex" }
