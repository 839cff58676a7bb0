package store

import (
	"github.com/ssargent/skadidb/pkg/message"
	"github.com/ssargent/skadidb/pkg/status"
)

// Insert sets key to value, replacing any previous value.
func (s *Store) Insert(key, value []byte) error {
	return s.apply(opInsert, key, message.NewInsert(value))
}

// Update merges delta into the value of key using the application's merge
// policy. Under the default policy it behaves like Insert.
func (s *Store) Update(key, delta []byte) error {
	return s.apply(opUpdate, key, message.NewUpdate(delta))
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key []byte) error {
	return s.apply(opDelete, key, message.Tombstone)
}

func (s *Store) apply(op string, key []byte, msg message.Message) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	slot, err := s.encodeKey(key)
	if err != nil {
		s.metrics.observe(op, err)
		return err
	}
	err = s.tree.Insert(slot, msg)
	s.metrics.observe(op, err)
	if err == nil {
		s.stats.mutation(msg.Kind)
	}
	return err
}

// encodeKey validates key against the configured key size and, when
// enabled, the application key range.
func (s *Store) encodeKey(key []byte) ([]byte, error) {
	if len(key) > s.shim.AppKeySize() {
		return nil, status.InvalidArgumentf("key length %d exceeds key size %d", len(key), s.shim.AppKeySize())
	}
	if s.cfg.CheckKeyRange && !s.shim.InRange(key) {
		app := s.shim.App()
		s.logger.Warn("key outside configured range",
			"key", app.KeyString(key),
			"min", app.KeyString(app.MinKey()),
			"max", app.KeyString(app.MaxKey()))
		return nil, status.InvalidArgumentf("key %s outside [%s, %s]",
			app.KeyString(key), app.KeyString(app.MinKey()), app.KeyString(app.MaxKey()))
	}
	return s.shim.EncodeKey(key)
}

// LookupResult receives the outcome of a Lookup. It can be reused across
// lookups; its buffer grows as needed.
type LookupResult struct {
	buf   []byte
	msg   message.Message
	found bool
}

// NewLookupResult returns a result that stores values in buf.
func NewLookupResult(buf []byte) *LookupResult {
	return &LookupResult{buf: buf[:0]}
}

// Found reports whether the last lookup found a live value.
func (r *LookupResult) Found() bool { return r.found }

// Message returns the resolved message of the last lookup.
func (r *LookupResult) Message() message.Message { return r.msg }

// Value returns the value of the last lookup. It fails with an
// invalid-argument error when nothing was found.
func (r *LookupResult) Value() ([]byte, error) {
	if !r.found {
		return nil, status.InvalidArgumentf("lookup result holds no value")
	}
	return r.msg.Payload, nil
}

func (r *LookupResult) reset() {
	r.found = false
	r.msg = message.Message{}
}

func (r *LookupResult) set(m message.Message) {
	r.buf = append(r.buf[:0], m.Payload...)
	r.msg = message.Message{Kind: m.Kind, Payload: r.buf}
	r.found = true
}

// Lookup resolves key into result. A missing key is not an error; check
// result.Found.
func (s *Store) Lookup(key []byte, result *LookupResult) error {
	if result == nil {
		return status.InvalidArgumentf("lookup result is nil")
	}
	result.reset()
	if err := s.checkOpen(); err != nil {
		return err
	}
	slot, err := s.encodeKey(key)
	if err != nil {
		s.metrics.observe(opLookup, err)
		return err
	}

	m, found, err := s.tree.Lookup(slot)
	s.metrics.observe(opLookup, err)
	if err != nil {
		return err
	}
	s.stats.lookup(found)
	if found {
		result.set(m)
	}
	return nil
}
