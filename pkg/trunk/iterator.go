package trunk

import (
	"github.com/cockroachdb/pebble"

	"github.com/ssargent/skadidb/pkg/message"
)

// Iterator walks live keys in ascending order, skipping keys whose resolved
// message is a Delete.
type Iterator struct {
	tree *Tree
	it   *pebble.Iterator
	err  error
}

// NewIterator positions a new iterator at the first live key at or after
// start, or at the first live key when start is nil.
func (t *Tree) NewIterator(start []byte) (*Iterator, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	it, err := t.db.NewIter(nil)
	if err != nil {
		return nil, ioError(err, "failed to create iterator")
	}

	i := &Iterator{tree: t, it: it}
	if start == nil {
		it.First()
	} else {
		it.SeekGE(start)
	}
	i.skipDeleted()
	return i, nil
}

func (i *Iterator) skipDeleted() {
	for i.it.Valid() && i.tree.cfg.Data.Classify(i.it.Value()) == message.Delete {
		i.it.Next()
	}
	if err := i.it.Error(); err != nil && i.err == nil {
		i.err = ioError(err, "iteration failed")
	}
}

// Valid reports whether the iterator is positioned at a key.
func (i *Iterator) Valid() bool {
	return i.err == nil && i.it.Valid()
}

// Next advances to the following live key.
func (i *Iterator) Next() {
	if !i.Valid() {
		return
	}
	i.it.Next()
	i.skipDeleted()
}

// Key returns the current key slot. It is valid until the next call to Next.
func (i *Iterator) Key() []byte {
	return i.it.Key()
}

// Message returns the current resolved message. The payload is valid until
// the next call to Next.
func (i *Iterator) Message() message.Message {
	return message.Decode(i.it.Value(), i.tree.cfg.Data.Classify)
}

// Error returns the first failure the iterator hit.
func (i *Iterator) Error() error {
	return i.err
}

// Close releases the iterator.
func (i *Iterator) Close() error {
	if i.it == nil {
		return nil
	}
	err := i.it.Close()
	i.it = nil
	if err != nil && i.err == nil {
		return ioError(err, "failed to close iterator")
	}
	return nil
}
