package hstore

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/hkv/lib/store"
)

// --------------------------------------------------------------------------
// Meta Record
// --------------------------------------------------------------------------

/*
	+-------------------+-------------------+------------------------+
	| length (8 bytes)  | volume (8 bytes)  | index blob (n bytes)   |
	| int64 LE          | int64 LE          | opaque                 |
	+-------------------+-------------------+------------------------+
*/

// metaHeaderSize is the size of the two counters
const metaHeaderSize = 16

// MetaRecord holds the denormalized counters of one collection
type MetaRecord struct {
	Length int64  // number of fields
	Volume int64  // sum of len(key)+len(field)+len(value) over all fields
	Index  []byte // opaque, never interpreted by the engine
}

// IncrementMeta adds the deltas to the counters
func (m *MetaRecord) IncrementMeta(dLen, dVol int64) {
	m.Length += dLen
	m.Volume += dVol
}

// Empty reports whether the collection has no fields
func (m *MetaRecord) Empty() bool {
	return m.Length <= 0
}

// EncodeMetaRecord serializes m
func EncodeMetaRecord(m MetaRecord) []byte {
	buf := make([]byte, metaHeaderSize+len(m.Index))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Length))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Volume))
	copy(buf[metaHeaderSize:], m.Index)
	return buf
}

// DecodeMetaRecord parses a serialized meta record. The index is copied.
func DecodeMetaRecord(b []byte) (MetaRecord, error) {
	if len(b) < metaHeaderSize {
		return MetaRecord{}, store.NewError(store.RetCCorruption, fmt.Sprintf("meta record too short: %d bytes", len(b)))
	}
	m := MetaRecord{
		Length: int64(binary.LittleEndian.Uint64(b[0:8])),
		Volume: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
	if len(b) > metaHeaderSize {
		m.Index = append([]byte(nil), b[metaHeaderSize:]...)
	}
	return m, nil
}

// entrySize is the volume contribution of one field
func entrySize(key, field, value []byte) int64 {
	return int64(len(key) + len(field) + len(value))
}
