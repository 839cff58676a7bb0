package codec

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/skadidb/pkg/status"
)

func TestRecordCodec_EncodeDecode(t *testing.T) {
	codec := NewRecordCodec()

	testCases := []struct {
		name    string
		rtype   RecordType
		version uint16
		payload []byte
	}{
		{name: "superblock", rtype: RecordSuperblock, version: 1, payload: []byte("geometry")},
		{name: "tree", rtype: RecordTree, version: 3, payload: []byte{0x00, 0x01, 0x02}},
		{name: "empty payload", rtype: RecordTree, version: 1, payload: []byte{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := codec.Encode(tc.rtype, tc.version, tc.payload)
			assert.Len(t, encoded, RecordHeaderSize+len(tc.payload))

			// Trailing page bytes must not disturb decoding.
			page := make([]byte, 512)
			copy(page, encoded)

			record, err := codec.Decode(page)
			require.NoError(t, err)
			assert.Equal(t, tc.rtype, record.Type)
			assert.Equal(t, tc.version, record.Version)
			assert.Equal(t, tc.payload, record.Payload)
			assert.Equal(t, len(encoded), record.Size())

			n, err := RecordLen(page)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), n)
		})
	}
}

func TestRecordCodec_Decode_Errors(t *testing.T) {
	codec := NewRecordCodec()
	valid := codec.Encode(RecordSuperblock, 1, []byte("payload"))

	t.Run("blank region", func(t *testing.T) {
		_, err := codec.Decode(make([]byte, 64))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBlankRecord))
		assert.True(t, errors.Is(err, status.ErrNotFound))
	})

	t.Run("blank region length", func(t *testing.T) {
		_, err := RecordLen(make([]byte, RecordHeaderSize))
		assert.True(t, errors.Is(err, ErrBlankRecord))
	})

	t.Run("short header", func(t *testing.T) {
		_, err := codec.Decode(valid[:RecordHeaderSize-1])
		assert.True(t, errors.Is(err, status.ErrInvalidState))
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := codec.Decode(valid[:len(valid)-1])
		assert.True(t, errors.Is(err, status.ErrInvalidState))
	})

	t.Run("corrupted payload", func(t *testing.T) {
		corrupt := append([]byte(nil), valid...)
		corrupt[len(corrupt)-1] ^= 0xff
		_, err := codec.Decode(corrupt)
		require.Error(t, err)
		assert.True(t, errors.Is(err, status.ErrInvalidState))
		assert.Contains(t, err.Error(), "CRC32 mismatch")
	})

	t.Run("bad magic", func(t *testing.T) {
		corrupt := append([]byte(nil), valid...)
		corrupt[4] = 'X'
		_, err := codec.Decode(corrupt)
		assert.True(t, errors.Is(err, status.ErrInvalidState))
		assert.False(t, errors.Is(err, ErrBlankRecord))
	})
}

func TestFieldReaderWriter(t *testing.T) {
	var w FieldWriter
	w.Uint64(1 << 40)
	w.Uint32(4096)
	w.Bytes([]byte{0xde, 0xad})
	w.Text("trunk-0001")

	r := NewFieldReader(w.Payload())
	assert.Equal(t, uint64(1<<40), r.Uint64())
	assert.Equal(t, uint32(4096), r.Uint32())
	assert.Equal(t, []byte{0xde, 0xad}, r.Bytes())
	assert.Equal(t, "trunk-0001", r.Text())
	require.NoError(t, r.Err())

	t.Run("truncation sticks", func(t *testing.T) {
		r := NewFieldReader(w.Payload()[:3])
		r.Uint64()
		r.Uint32()
		assert.Nil(t, r.Bytes())
		assert.True(t, errors.Is(r.Err(), status.ErrInvalidState))
	})
}
