// Package codec provides the on-disk encodings used by SkadiDB.
//
// # Key Encoding
//
// Applications use variable-length keys of at most MaxKeySize bytes. The tree
// engine stores fixed-width key slots, so every key is projected into an
// EncodedKey before it reaches the engine:
//
//	[Length(1)][Key data][zero padding up to MaxKeySize]
//
// The slot width of a store is its configured application key size plus the
// length byte (see SlotWidth). Only the first SlotWidth bytes are persisted.
// Padding bytes are always zero, so two encodings of the same logical key are
// byte-for-byte identical.
//
// DecodeKey reverses the projection. A length prefix that exceeds the
// configured key size can only come from corruption or a configuration
// mismatch, and is treated as a fatal invariant violation rather than an
// error:
//
//	ek, err := codec.EncodeKey([]byte("user-1"))
//	if err != nil {
//	    return err // key longer than MaxKeySize
//	}
//	slot := ek.Slot(codec.SlotWidth(8))
//	raw := codec.DecodeKey(slot, 8) // "user-1"
//
// # Metadata Records
//
// Device metadata (the allocator superblock and tree super records) is stored
// as checksummed records:
//
//	[CRC32(4)][Magic(4)][Type(2)][Version(2)][Length(4)][Payload]
//
// The CRC32 covers every field after itself. A region of zero bytes decodes
// as ErrBlankRecord, which lets mount paths distinguish "never formatted"
// from "corrupt".
//
// # Thread Safety
//
// All functions are pure. RecordCodec instances are safe for concurrent use.
package codec
