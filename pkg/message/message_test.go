package message

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/skadidb/pkg/status"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, Insert, Classify([]byte{byte(Insert), 'a'}))
	assert.Equal(t, Update, Classify([]byte{byte(Update)}))
	assert.Equal(t, Delete, Classify([]byte{byte(Delete)}))

	t.Run("unknown type is fatal", func(t *testing.T) {
		assert.Panics(t, func() { Classify([]byte{0x7f, 'x'}) })
		assert.Panics(t, func() { Classify([]byte{byte(Invalid)}) })
	})

	t.Run("empty message is fatal", func(t *testing.T) {
		assert.Panics(t, func() { Classify(nil) })
	})
}

func TestEncodeDecode(t *testing.T) {
	testCases := []struct {
		name string
		msg  Message
	}{
		{name: "insert", msg: NewInsert([]byte("value"))},
		{name: "update", msg: NewUpdate([]byte{0x00, 0xff})},
		{name: "empty insert", msg: NewInsert(nil)},
		{name: "delete", msg: Tombstone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := Encode(nil, tc.msg)
			got := Decode(raw, Classify)
			assert.Equal(t, tc.msg.Kind, got.Kind)
			assert.True(t, bytes.Equal(tc.msg.Payload, got.Payload))
		})
	}

	t.Run("delete drops payload", func(t *testing.T) {
		raw := Encode(nil, Message{Kind: Delete, Payload: []byte("ignored")})
		assert.Equal(t, []byte{byte(Delete)}, raw)
	})
}

func TestEncodeValue(t *testing.T) {
	buf := make([]byte, 4)
	n, err := EncodeValue(Insert, []byte("abc"), buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	value, err := DecodeValue(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), value)

	_, err = EncodeValue(Insert, []byte("abcd"), buf)
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))

	_, err = DecodeValue(nil)
	assert.True(t, errors.Is(err, status.ErrInvalidArgument))
}

func TestDefaultMergeKeepsNewer(t *testing.T) {
	payloads := [][]byte{nil, []byte("a"), []byte("longer payload"), {0x00, 0x01}}
	for _, older := range payloads {
		for _, newer := range payloads {
			got, err := DefaultMerge([]byte("k"), NewInsert(older), NewInsert(newer))
			require.NoError(t, err)
			assert.Equal(t, NewInsert(newer), got)
		}
	}

	oldest := NewUpdate([]byte("delta"))
	got, err := DefaultMergeFinal([]byte("k"), oldest)
	require.NoError(t, err)
	assert.Equal(t, oldest, got)
}

func TestApplyShadowing(t *testing.T) {
	calls := 0
	concat := func(key []byte, older, newer Message) (Message, error) {
		calls++
		return NewInsert(append(append([]byte(nil), older.Payload...), newer.Payload...)), nil
	}

	t.Run("insert shadows older", func(t *testing.T) {
		got, err := Apply(concat, nil, NewInsert([]byte("old")), NewInsert([]byte("new")))
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got.Payload)
	})

	t.Run("delete shadows older", func(t *testing.T) {
		got, err := Apply(concat, nil, NewInsert([]byte("old")), Tombstone)
		require.NoError(t, err)
		assert.True(t, got.IsDelete())
	})

	t.Run("update consults merge", func(t *testing.T) {
		got, err := Apply(concat, nil, NewInsert([]byte("A")), NewUpdate([]byte("B")))
		require.NoError(t, err)
		assert.Equal(t, NewInsert([]byte("AB")), got)
	})

	assert.Equal(t, 1, calls)
}

func TestFinishOnlyResolvesUpdates(t *testing.T) {
	toInsert := func(key []byte, oldest Message) (Message, error) {
		return NewInsert(oldest.Payload), nil
	}

	got, err := Finish(toInsert, nil, NewUpdate([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, Insert, got.Kind)

	got, err = Finish(toInsert, nil, Tombstone)
	require.NoError(t, err)
	assert.Equal(t, Delete, got.Kind)
}
