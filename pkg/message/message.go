// Package message implements the tagged mutation payloads stored by SkadiDB
// and the default policy for collapsing two messages written to one key.
package message

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/skadidb/pkg/status"
)

// Kind labels a message as an insert, update or delete.
type Kind uint8

const (
	Invalid Kind = iota
	Insert
	Update
	Delete
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "invalid"
	}
}

// HeaderSize is the size of the discriminant byte in front of every stored
// message.
const HeaderSize = 1

// Message is a kind plus an opaque payload. Insert and Update payloads are
// application bytes; Delete never carries one.
type Message struct {
	Kind    Kind
	Payload []byte
}

// Tombstone is the Delete message.
var Tombstone = Message{Kind: Delete}

// NewInsert returns an Insert message for value.
func NewInsert(value []byte) Message {
	return Message{Kind: Insert, Payload: value}
}

// NewUpdate returns an Update message carrying delta.
func NewUpdate(delta []byte) Message {
	return Message{Kind: Update, Payload: delta}
}

// IsDelete reports whether m is a tombstone.
func (m Message) IsDelete() bool {
	return m.Kind == Delete
}

// Clone returns a copy of m that does not alias the payload.
func (m Message) Clone() Message {
	if m.Payload == nil {
		return Message{Kind: m.Kind}
	}
	return Message{Kind: m.Kind, Payload: append([]byte(nil), m.Payload...)}
}

func (m Message) String() string {
	return fmt.Sprintf("%s(%d bytes)", m.Kind, len(m.Payload))
}

// Classify reads the discriminant byte of a stored message. Any value other
// than Insert, Update or Delete means the bytes cannot be trusted and the
// process must not continue.
func Classify(raw []byte) Kind {
	if len(raw) < HeaderSize {
		panic(errors.AssertionFailedf("message of %d bytes has no type byte", len(raw)))
	}
	switch k := Kind(raw[0]); k {
	case Insert, Update, Delete:
		return k
	default:
		panic(errors.AssertionFailedf("unknown message type: %d", raw[0]))
	}
}

// Encode appends the stored form of m to dst.
func Encode(dst []byte, m Message) []byte {
	dst = append(dst, byte(m.Kind))
	if m.Kind == Delete {
		return dst
	}
	return append(dst, m.Payload...)
}

// Decode splits a stored message using classify to label it. The payload
// aliases raw.
func Decode(raw []byte, classify func([]byte) Kind) Message {
	k := classify(raw)
	if k == Delete {
		return Tombstone
	}
	return Message{Kind: k, Payload: raw[HeaderSize:]}
}

// EncodeValue writes a message of the given kind carrying value into dst and
// returns the encoded length. It fails when dst is too small.
func EncodeValue(kind Kind, value, dst []byte) (int, error) {
	if len(value)+HeaderSize > len(dst) {
		return 0, status.InvalidArgumentf(
			"value length %d + header %d exceeds buffer size %d", len(value), HeaderSize, len(dst))
	}
	dst[0] = byte(kind)
	copy(dst[HeaderSize:], value)
	return HeaderSize + len(value), nil
}

// DecodeValue returns the payload of an encoded message buffer.
func DecodeValue(buf []byte) ([]byte, error) {
	if len(buf) < HeaderSize {
		return nil, status.InvalidArgumentf("message buffer of %d bytes must be at least %d bytes", len(buf), HeaderSize)
	}
	return buf[HeaderSize:], nil
}
