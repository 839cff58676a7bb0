package data

import (
	"github.com/ssargent/skadidb/pkg/message"
	"github.com/ssargent/skadidb/pkg/status"
)

// Funcs is a Config assembled from individual functions. Every field must be
// set; Validate rejects a Funcs with a missing capability.
type Funcs struct {
	ConfigName        string
	Size              int
	Min               []byte
	Max               []byte
	CompareFunc       func(a, b []byte) int
	HashFunc          func(key []byte) uint64
	ClassifyFunc      func(raw []byte) message.Kind
	MergeFunc         message.MergeFunc
	MergeFinalFunc    message.MergeFinalFunc
	KeyStringFunc     func(key []byte) string
	MessageStringFunc func(m message.Message) string
}

// FromLex returns a Funcs populated from the lexicographic defaults, ready
// to have individual capabilities replaced.
func FromLex(size int) *Funcs {
	l := NewLex(size)
	return &Funcs{
		ConfigName:        l.Name(),
		Size:              size,
		Min:               l.MinKey(),
		Max:               l.MaxKey(),
		CompareFunc:       l.Compare,
		HashFunc:          l.Hash,
		ClassifyFunc:      l.Classify,
		MergeFunc:         l.Merge,
		MergeFinalFunc:    l.MergeFinal,
		KeyStringFunc:     l.KeyString,
		MessageStringFunc: l.MessageString,
	}
}

// Check reports the first missing function.
func (f *Funcs) Check() error {
	missing := ""
	switch {
	case f.CompareFunc == nil:
		missing = "compare"
	case f.HashFunc == nil:
		missing = "hash"
	case f.ClassifyFunc == nil:
		missing = "classify"
	case f.MergeFunc == nil:
		missing = "merge"
	case f.MergeFinalFunc == nil:
		missing = "merge final"
	case f.KeyStringFunc == nil:
		missing = "key string"
	case f.MessageStringFunc == nil:
		missing = "message string"
	}
	if missing != "" {
		return status.InvalidArgumentf("data config is missing its %s function", missing)
	}
	return nil
}

func (f *Funcs) KeySize() int { return f.Size }
func (f *Funcs) MinKey() []byte { return f.Min }
func (f *Funcs) MaxKey() []byte { return f.Max }
func (f *Funcs) Name() string { return f.ConfigName }

func (f *Funcs) Compare(a, b []byte) int { return f.CompareFunc(a, b) }
func (f *Funcs) Hash(key []byte) uint64 { return f.HashFunc(key) }
func (f *Funcs) Classify(raw []byte) message.Kind { return f.ClassifyFunc(raw) }
func (f *Funcs) KeyString(key []byte) string { return f.KeyStringFunc(key) }

func (f *Funcs) Merge(key []byte, older, newer message.Message) (message.Message, error) {
	return f.MergeFunc(key, older, newer)
}

func (f *Funcs) MergeFinal(key []byte, oldest message.Message) (message.Message, error) {
	return f.MergeFinalFunc(key, oldest)
}

func (f *Funcs) MessageString(m message.Message) string { return f.MessageStringFunc(m) }
