package store

import (
	"github.com/ssargent/skadidb/pkg/status"
)

// Fixed is a view of a store for applications whose keys are always exactly
// the configured key size. It adds the length check and nothing else.
type Fixed struct {
	s    *Store
	size int
}

// NewFixed wraps s.
func NewFixed(s *Store) *Fixed {
	return &Fixed{s: s, size: s.shim.AppKeySize()}
}

func (f *Fixed) check(key []byte) error {
	if len(key) != f.size {
		return status.InvalidArgumentf("fixed key must be %d bytes, got %d", f.size, len(key))
	}
	return nil
}

func (f *Fixed) Insert(key, value []byte) error {
	if err := f.check(key); err != nil {
		return err
	}
	return f.s.Insert(key, value)
}

func (f *Fixed) Update(key, delta []byte) error {
	if err := f.check(key); err != nil {
		return err
	}
	return f.s.Update(key, delta)
}

func (f *Fixed) Delete(key []byte) error {
	if err := f.check(key); err != nil {
		return err
	}
	return f.s.Delete(key)
}

func (f *Fixed) Lookup(key []byte, result *LookupResult) error {
	if err := f.check(key); err != nil {
		return err
	}
	return f.s.Lookup(key, result)
}

// NewIterator starts at key, which must be exactly the key size when set.
func (f *Fixed) NewIterator(start []byte) (*Iterator, error) {
	if start != nil {
		if err := f.check(start); err != nil {
			return nil, err
		}
	}
	return f.s.NewIterator(start)
}
