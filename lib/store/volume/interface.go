package volume

import (
	"github.com/ValentinKolb/hkv/lib/store"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Source is a sorted stream of entities of one collection type.
// Key and Volume are only valid until the next call to Next or Close.
type Source interface {
	// Valid reports whether the source is positioned at an entity
	Valid() bool
	// Next advances to the next entity
	Next()
	// Key returns the logical key of the current entity (without type tag)
	Key() []byte
	// Volume returns the size estimate of the current entity
	Volume() int64
	// Err returns the first error the source encountered
	Err() error
	// Close releases the source
	Close() error
}

// Collection is implemented by every collection engine that takes part in
// cross-type range operations.
type Collection interface {
	// VolumeScan returns all entities with start <= key <= end in ascending key order.
	// An empty end means unbounded, a limit <= 0 means uncapped.
	VolumeScan(start, end []byte, limit int, useSnapshot bool) (Source, error)
	// DeleteKey removes the entity key entirely and returns how many entities were removed (0 or 1)
	DeleteKey(key []byte) (int64, error)
}

// Collections maps each data type to the engine that owns its keyspace.
// Missing types are skipped.
type Collections map[store.DataType]Collection
