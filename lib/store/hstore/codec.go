package hstore

import (
	"bytes"
	"fmt"

	"github.com/ValentinKolb/hkv/lib/store"
)

// --------------------------------------------------------------------------
// Key Codec
// --------------------------------------------------------------------------

/*
Physical layout of the hash keyspaces:

	field entry:  'h' | escape(collection key) | 0x00 0x01 | field
	meta record:  'H' | collection key

escape replaces every 0x00 of the collection key with 0x00 0xFF. The
terminator 0x00 0x01 therefore sorts before every continuation of a longer
key, so all fields of one collection form a contiguous block that sorts
strictly before the block of any larger collection key.
*/

const (
	// TagField prefixes all field entries
	TagField byte = 'h'
	// TagMeta prefixes all hash meta records
	TagMeta = byte(store.TypeHash)
)

const (
	escapeByte = 0x00
	escapedNul = 0xFF
	termByte   = 0x01
)

// escapedLen returns the length of the escaped collection key
func escapedLen(key []byte) int {
	return len(key) + bytes.Count(key, []byte{escapeByte})
}

// fieldPrefix returns 'h' | escape(key) | terminator, the common prefix of all fields of key
func fieldPrefix(key []byte, extra int) []byte {
	buf := make([]byte, 0, 1+escapedLen(key)+2+extra)
	buf = append(buf, TagField)
	for _, b := range key {
		if b == escapeByte {
			buf = append(buf, escapeByte, escapedNul)
			continue
		}
		buf = append(buf, b)
	}
	return append(buf, escapeByte, termByte)
}

// EncodeField returns the physical key of field in the collection key.
// The key length is not validated.
func EncodeField(key, field []byte) []byte {
	return append(fieldPrefix(key, len(field)), field...)
}

// EncodeMeta returns the physical key of the meta record of the collection key
func EncodeMeta(key []byte) []byte {
	buf := make([]byte, 1+len(key))
	buf[0] = TagMeta
	copy(buf[1:], key)
	return buf
}

// DecodeField splits a physical field key into collection key and field.
// The returned field aliases raw.
func DecodeField(raw []byte) (key, field []byte, err error) {
	if len(raw) == 0 || raw[0] != TagField {
		return nil, nil, store.NewError(store.RetCCorruption, fmt.Sprintf("not a hash field key: %q", raw))
	}

	key = make([]byte, 0, len(raw))
	for i := 1; i < len(raw); i++ {
		b := raw[i]
		if b != escapeByte {
			key = append(key, b)
			continue
		}
		if i+1 >= len(raw) {
			break
		}
		switch raw[i+1] {
		case escapedNul:
			key = append(key, escapeByte)
			i++
		case termByte:
			return key, raw[i+2:], nil
		default:
			return nil, nil, store.NewError(store.RetCCorruption, fmt.Sprintf("malformed escape at offset %d in %q", i, raw))
		}
	}
	return nil, nil, store.NewError(store.RetCCorruption, fmt.Sprintf("unterminated hash field key: %q", raw))
}

// DecodeMeta returns the collection key of a meta record key.
// The returned key aliases raw.
func DecodeMeta(raw []byte) ([]byte, error) {
	if len(raw) == 0 || raw[0] != TagMeta {
		return nil, store.NewError(store.RetCCorruption, fmt.Sprintf("not a hash meta key: %q", raw))
	}
	return raw[1:], nil
}
