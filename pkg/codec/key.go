package codec

import (
	"github.com/cockroachdb/errors"

	"github.com/ssargent/skadidb/pkg/status"
)

// MaxKeySize is the largest application key SkadiDB accepts.
const MaxKeySize = 104

// EncodedKeySize is the width of an encoded key: one length byte followed by
// MaxKeySize data bytes.
const EncodedKeySize = MaxKeySize + 1

// keyPrefixSize is the size of the length prefix.
const keyPrefixSize = 1

// EncodedKey is the fixed-size, length-prefixed form of an application key.
// Bytes past the logical length are always zero, so equal logical keys have
// identical on-disk bytes.
type EncodedKey [EncodedKeySize]byte

// EncodeKey builds the encoded form of raw.
func EncodeKey(raw []byte) (EncodedKey, error) {
	var k EncodedKey
	if len(raw) > MaxKeySize {
		return k, status.InvalidArgumentf("key length %d exceeds maximum key size %d", len(raw), MaxKeySize)
	}
	k[0] = byte(len(raw))
	copy(k[keyPrefixSize:], raw)
	return k, nil
}

// Len returns the logical length of the key.
func (k *EncodedKey) Len() int {
	return int(k[0])
}

// Raw returns the application bytes. The result aliases k.
func (k *EncodedKey) Raw() []byte {
	return k[keyPrefixSize : keyPrefixSize+k.Len()]
}

// Slot returns the first width bytes of k, the representation handed to the
// tree engine for a store whose slot width is width. The result aliases k.
func (k *EncodedKey) Slot(width int) []byte {
	if width < keyPrefixSize+k.Len() || width > EncodedKeySize {
		panic(errors.AssertionFailedf("slot width %d cannot hold key of length %d", width, k.Len()))
	}
	return k[:width]
}

// SlotWidth returns the slot width for an application key size.
func SlotWidth(keySize int) int {
	return keySize + keyPrefixSize
}

// DecodeKey returns the application bytes held in slot. A length prefix
// larger than bound, or larger than the slot itself, means the slot is
// corrupt or was written under a different configuration; both are fatal.
func DecodeKey(slot []byte, bound int) []byte {
	if len(slot) < keyPrefixSize {
		panic(errors.AssertionFailedf("encoded key of %d bytes has no length prefix", len(slot)))
	}
	n := int(slot[0])
	if n > bound {
		panic(errors.AssertionFailedf("encoded key length %d exceeds key size %d", n, bound))
	}
	if keyPrefixSize+n > len(slot) {
		panic(errors.AssertionFailedf("encoded key length %d overruns slot of %d bytes", n, len(slot)))
	}
	return slot[keyPrefixSize : keyPrefixSize+n]
}

// CompareKeys decodes both slots and orders them with cmp.
func CompareKeys(a, b []byte, bound int, cmp func(a, b []byte) int) int {
	return cmp(DecodeKey(a, bound), DecodeKey(b, bound))
}
