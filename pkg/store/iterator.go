package store

import (
	"github.com/ssargent/skadidb/pkg/status"
	"github.com/ssargent/skadidb/pkg/trunk"
)

// Iterator walks live keys in ascending order. The first failure sticks:
// once Status returns an error the iterator stays invalid.
type Iterator struct {
	s      *Store
	it     *trunk.Iterator
	err    error
	closed bool
}

// NewIterator returns an iterator positioned at the first key at or after
// start. A nil start begins at the smallest key.
func (s *Store) NewIterator(start []byte) (*Iterator, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var slot []byte
	if start != nil {
		var err error
		if slot, err = s.shim.EncodeKey(start); err != nil {
			return nil, err
		}
	}
	it, err := s.tree.NewIterator(slot)
	if err != nil {
		return nil, err
	}
	s.metrics.observe(opIterate, nil)
	i := &Iterator{s: s, it: it}
	i.err = it.Error()
	return i, nil
}

// Valid reports whether Current may be called.
func (i *Iterator) Valid() bool {
	if i.closed || i.err != nil || i.s.closed.Load() {
		return false
	}
	return i.it.Valid()
}

// Next advances the iterator. It returns the sticky failure, if any. Once
// the iterator has run off the end Next does nothing.
func (i *Iterator) Next() error {
	if i.err != nil {
		return i.err
	}
	if i.closed {
		return status.InvalidStatef("iterator is closed")
	}
	if err := i.s.checkOpen(); err != nil {
		return err
	}
	if !i.it.Valid() {
		return nil
	}
	i.it.Next()
	i.err = i.it.Error()
	return i.err
}

// Current returns the application key and value at the current position.
// Both are valid until the next call to Next or Close.
func (i *Iterator) Current() (key, value []byte) {
	if !i.Valid() {
		return nil, nil
	}
	return i.s.shim.DecodeKey(i.it.Key()), i.it.Message().Payload
}

// Status returns the sticky failure, or nil.
func (i *Iterator) Status() error {
	return i.err
}

// Close releases the iterator. It must be called before the store closes.
func (i *Iterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.it.Close()
}
