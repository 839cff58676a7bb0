package shim

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/skadidb/pkg/codec"
	"github.com/ssargent/skadidb/pkg/data"
	"github.com/ssargent/skadidb/pkg/message"
	"github.com/ssargent/skadidb/pkg/status"
)

func TestNew(t *testing.T) {
	c, err := New(data.NewLex(8))
	require.NoError(t, err)

	assert.Equal(t, 9, c.KeySize())
	assert.Equal(t, 8, c.AppKeySize())
	assert.Equal(t, make([]byte, 9), c.MinKey())
	assert.Equal(t, append([]byte{8}, bytes.Repeat([]byte{0xff}, 8)...), c.MaxKey())
	assert.Negative(t, c.Compare(c.MinKey(), c.MaxKey()))
	assert.Equal(t, "skadi.lex", c.Name())

	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil)
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))
	})

	t.Run("oversized key size", func(t *testing.T) {
		_, err := New(data.NewLex(codec.MaxKeySize + 1))
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))
	})

	t.Run("oversized max key", func(t *testing.T) {
		f := data.FromLex(4)
		f.Max = bytes.Repeat([]byte{0xff}, codec.MaxKeySize+1)
		_, err := New(f)
		assert.True(t, errors.Is(err, status.ErrInvalidArgument))
	})
}

func TestEncodeKey(t *testing.T) {
	c, err := New(data.NewLex(8))
	require.NoError(t, err)

	slot, err := c.EncodeKey([]byte("user-1"))
	require.NoError(t, err)
	assert.Len(t, slot, 9)
	assert.Equal(t, []byte("user-1"), c.DecodeKey(slot))
	assert.Equal(t, "user-1", c.KeyString(slot))
	assert.Equal(t, c.App().Hash([]byte("user-1")), c.Hash(slot))

	_, err = c.EncodeKey([]byte("123456789"))
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))
}

func TestCompareDelegates(t *testing.T) {
	f := data.FromLex(4)
	f.CompareFunc = func(a, b []byte) int { return bytes.Compare(b, a) }
	f.Min, f.Max = f.Max, f.Min
	c, err := New(f)
	require.NoError(t, err)

	a, _ := c.EncodeKey([]byte("a"))
	b, _ := c.EncodeKey([]byte("b"))
	assert.Positive(t, c.Compare(a, b))
	assert.Zero(t, c.Compare(a, a))
}

func TestInRange(t *testing.T) {
	f := data.FromLex(4)
	f.Min, f.Max = []byte("b"), []byte("m")
	c, err := New(f)
	require.NoError(t, err)

	assert.True(t, c.InRange([]byte("b")))
	assert.True(t, c.InRange([]byte("hello")[:4]))
	assert.True(t, c.InRange([]byte("m")))
	assert.False(t, c.InRange([]byte("a")))
	assert.False(t, c.InRange([]byte("n")))
}

func TestMerge(t *testing.T) {
	var seenKey []byte
	f := data.FromLex(8)
	f.MergeFunc = func(key []byte, older, newer message.Message) (message.Message, error) {
		seenKey = key
		return message.NewInsert(append(append([]byte(nil), older.Payload...), newer.Payload...)), nil
	}
	f.MergeFinalFunc = func(key []byte, oldest message.Message) (message.Message, error) {
		return message.NewInsert(oldest.Payload), nil
	}
	c, err := New(f)
	require.NoError(t, err)
	slot, _ := c.EncodeKey([]byte("k"))

	got, err := c.Merge(slot, message.NewInsert([]byte("A")), message.NewUpdate([]byte("B")))
	require.NoError(t, err)
	assert.Equal(t, message.NewInsert([]byte("AB")), got)
	assert.Equal(t, []byte("k"), seenKey)

	got, err = c.Merge(slot, message.NewInsert([]byte("A")), message.Tombstone)
	require.NoError(t, err)
	assert.True(t, got.IsDelete())

	got, err = c.MergeFinal(slot, message.NewUpdate([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, message.Insert, got.Kind)

	got, err = c.MergeFinal(slot, message.Tombstone)
	require.NoError(t, err)
	assert.True(t, got.IsDelete())
}

func TestDefaultMergeOverwrites(t *testing.T) {
	c, err := New(data.NewLex(8))
	require.NoError(t, err)
	slot, _ := c.EncodeKey([]byte("user-1"))

	got, err := c.Merge(slot, message.NewInsert([]byte("A")), message.NewUpdate([]byte("B")))
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), got.Payload)
}
