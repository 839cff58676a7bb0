package codec

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/cockroachdb/errors"

	"github.com/ssargent/skadidb/pkg/status"
)

// RecordMagic marks the start of every metadata record.
const RecordMagic uint32 = 0x534b4431 // "SKD1"

// RecordHeaderSize is the fixed header in front of the payload.
// Format: [CRC32(4)][Magic(4)][Type(2)][Version(2)][Length(4)][Payload]
const RecordHeaderSize = 16

// RecordType identifies what a metadata record describes.
type RecordType uint16

const (
	RecordSuperblock RecordType = iota + 1
	RecordTree
)

// ErrBlankRecord is returned when a record slot was never written.
var ErrBlankRecord = errors.Wrap(status.ErrNotFound, "no record")

// Record is a checksummed metadata record stored in device pages.
type Record struct {
	CRC32   uint32
	Type    RecordType
	Version uint16
	Payload []byte
}

// RecordCodec handles serialization and deserialization of records
type RecordCodec struct{}

// NewRecordCodec creates a new record codec instance
func NewRecordCodec() *RecordCodec {
	return &RecordCodec{}
}

// Encode serializes a payload into a checksummed record.
func (c *RecordCodec) Encode(rtype RecordType, version uint16, payload []byte) []byte {
	r := &Record{Type: rtype, Version: version, Payload: payload}
	r.CRC32 = r.calculateCRC32()

	buf := make([]byte, r.Size())
	binary.LittleEndian.PutUint32(buf[0:], r.CRC32)
	binary.LittleEndian.PutUint32(buf[4:], RecordMagic)
	binary.LittleEndian.PutUint16(buf[8:], uint16(r.Type))
	binary.LittleEndian.PutUint16(buf[10:], r.Version)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(r.Payload)))
	copy(buf[RecordHeaderSize:], r.Payload)
	return buf
}

// Decode parses a record at the start of data and validates its checksum.
// A zeroed region yields ErrBlankRecord.
func (c *RecordCodec) Decode(data []byte) (*Record, error) {
	if len(data) < RecordHeaderSize {
		return nil, status.InvalidStatef("data too short for record header: %d bytes", len(data))
	}
	if binary.LittleEndian.Uint32(data[4:8]) != RecordMagic {
		if isZero(data[:RecordHeaderSize]) {
			return nil, ErrBlankRecord
		}
		return nil, status.InvalidStatef("bad record magic %#x", binary.LittleEndian.Uint32(data[4:8]))
	}

	r := &Record{
		CRC32:   binary.LittleEndian.Uint32(data[0:4]),
		Type:    RecordType(binary.LittleEndian.Uint16(data[8:10])),
		Version: binary.LittleEndian.Uint16(data[10:12]),
	}
	n := binary.LittleEndian.Uint32(data[12:16])
	if uint64(len(data)) < RecordHeaderSize+uint64(n) {
		return nil, status.InvalidStatef("data too short for payload: %d < %d", len(data), RecordHeaderSize+n)
	}
	r.Payload = data[RecordHeaderSize : RecordHeaderSize+n]

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordLen returns the encoded size of the record whose header starts data,
// so callers reading page by page know how much to fetch.
func RecordLen(data []byte) (int, error) {
	if len(data) < RecordHeaderSize {
		return 0, status.InvalidStatef("data too short for record header: %d bytes", len(data))
	}
	if binary.LittleEndian.Uint32(data[4:8]) != RecordMagic {
		if isZero(data[:RecordHeaderSize]) {
			return 0, ErrBlankRecord
		}
		return 0, status.InvalidStatef("bad record magic %#x", binary.LittleEndian.Uint32(data[4:8]))
	}
	return RecordHeaderSize + int(binary.LittleEndian.Uint32(data[12:16])), nil
}

// Validate checks the integrity of a record using CRC32
func (r *Record) Validate() error {
	if sum := r.calculateCRC32(); r.CRC32 != sum {
		return status.InvalidStatef("record CRC32 mismatch: %d != %d", r.CRC32, sum)
	}
	return nil
}

// Size returns the total size of the record when encoded
func (r *Record) Size() int {
	return RecordHeaderSize + len(r.Payload)
}

// calculateCRC32 covers everything after the CRC field.
func (r *Record) calculateCRC32() uint32 {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], RecordMagic)
	binary.LittleEndian.PutUint16(hdr[4:], uint16(r.Type))
	binary.LittleEndian.PutUint16(hdr[6:], r.Version)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(r.Payload)))

	crc := crc32.NewIEEE()
	_, _ = crc.Write(hdr[:])
	_, _ = crc.Write(r.Payload)
	return crc.Sum32()
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// FieldWriter appends little-endian fields to a record payload.
type FieldWriter struct {
	buf []byte
}

func (w *FieldWriter) Uint64(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }

func (w *FieldWriter) Uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *FieldWriter) Bytes(b []byte) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *FieldWriter) Text(s string) { w.Bytes([]byte(s)) }

// Payload returns the bytes written so far.
func (w *FieldWriter) Payload() []byte { return w.buf }

// FieldReader reads fields written by FieldWriter. The first failure sticks
// and is reported by Err.
type FieldReader struct {
	buf []byte
	err error
}

// NewFieldReader reads fields from payload.
func NewFieldReader(payload []byte) *FieldReader {
	return &FieldReader{buf: payload}
}

func (r *FieldReader) Uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = status.InvalidStatef("truncated varint field")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *FieldReader) Uint32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.err = status.InvalidStatef("truncated uint32 field")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *FieldReader) Bytes() []byte {
	n := r.Uint64()
	if r.err != nil {
		return nil
	}
	if uint64(len(r.buf)) < n {
		r.err = status.InvalidStatef("truncated bytes field: want %d, have %d", n, len(r.buf))
		return nil
	}
	b := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return b
}

func (r *FieldReader) Text() string { return string(r.Bytes()) }

// Err returns the first decoding failure.
func (r *FieldReader) Err() error { return r.err }
