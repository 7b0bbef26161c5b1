package util

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Entry Envelope
// --------------------------------------------------------------------------

/*
Persistent engines that have no native per-key expiration store every value
wrapped in a small envelope:

	+----------------------+---------------------+
	| expireAt (8 bytes)   | value (n bytes)     |
	| int64 little endian  | raw user value      |
	+----------------------+---------------------+

expireAt is a unix timestamp in nanoseconds, 0 means "no expiration".
*/

// EnvelopeHeaderSize is the number of bytes the envelope adds to every value
const EnvelopeHeaderSize = 8

// DataError is returned when a persisted entry cannot be decoded
type DataError struct {
	Key []byte
	Msg string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("undecodable entry %q: %s", e.Key, e.Msg)
}

// EncodeEntry wraps value into an envelope with the given expiration
func EncodeEntry(expireAt int64, value []byte) []byte {
	buf := make([]byte, EnvelopeHeaderSize+len(value))
	binary.LittleEndian.PutUint64(buf, uint64(expireAt))
	copy(buf[EnvelopeHeaderSize:], value)
	return buf
}

// DecodeEntry splits a raw envelope into its expiration and value.
// The returned value aliases raw.
func DecodeEntry(key, raw []byte) (expireAt int64, value []byte, err error) {
	if len(raw) < EnvelopeHeaderSize {
		return 0, nil, &DataError{Key: key, Msg: fmt.Sprintf("envelope too short (%d bytes)", len(raw))}
	}
	return int64(binary.LittleEndian.Uint64(raw)), raw[EnvelopeHeaderSize:], nil
}
