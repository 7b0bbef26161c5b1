package db

import (
	"errors"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplPebble Implementation = "pebble"
	ImplBolt   Implementation = "bolt"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureGet            Feature = 1 << iota // Support for Get operations
	FeaturePut                                // Support for Put operations
	FeatureDelete                             // Support for Delete operations
	FeatureBatch                              // Support for atomic batched writes
	FeatureTTL                                // Support for native per-key expiration
	FeatureSnapshot                           // Support for point-in-time snapshots
	FeatureIterator                           // Support for sorted forward iteration
	FeatureSave                               // Support for Save operations
	FeatureLoad                               // Support for Load operations
	FeatureGarbageCollect                     // Support for GarbageCollect operations
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeaturePut:
		return "Put"
	case FeatureDelete:
		return "Delete"
	case FeatureBatch:
		return "Batch"
	case FeatureTTL:
		return "TTL"
	case FeatureSnapshot:
		return "Snapshot"
	case FeatureIterator:
		return "Iterator"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	default:
		return "Unknown"
	}
}

// FeatureAll is the feature set required by the hash engine
const FeatureAll = FeatureGet | FeaturePut | FeatureDelete | FeatureBatch |
	FeatureTTL | FeatureSnapshot | FeatureIterator

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrNotFound is returned by Get and TTL if the key does not exist or is expired.
	ErrNotFound = errors.New("db: not found")
	// ErrClosed is returned by all operations after Close was called.
	ErrClosed = errors.New("db: closed")
	// ErrUnsupported is returned by operations the engine does not implement.
	ErrUnsupported = errors.New("db: unsupported operation")
	// ErrSnapshotReleased is returned when a released snapshot is used.
	ErrSnapshotReleased = errors.New("db: snapshot released")
)

// NoTTL is returned by TTL for keys without expiration
const NoTTL int64 = -1

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// Reader is the read-only view shared by a live database and a snapshot.
type Reader interface {
	// Get returns a copy of the value for key, or ErrNotFound.
	Get(key []byte) (value []byte, err error)

	// NewIterator returns a forward iterator over all keys in ascending byte order.
	// The iterator is not positioned: call Seek before reading from it.
	NewIterator(opts *IterOptions) (it Iterator, err error)
}

// KVDB defines the ordered key-value substrate the collection engines are built on.
// Keys are compared bytewise. Every implementation must hide expired entries from
// all read paths immediately, even if the entry is physically still present.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {
	Reader

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or updates an entry. Any previous expiration of the key is cleared.
	Put(key, value []byte) (err error)

	// Delete removes an entry. Deleting a missing key is not an error.
	Delete(key []byte) (err error)

	// Write applies all operations of a batch atomically.
	// Either all or none of the operations become visible.
	Write(batch *Batch) (err error)

	// --------------------------------------------------------------------------
	// Expiration
	// --------------------------------------------------------------------------

	// TTL returns the remaining time to live of key in seconds (rounded up),
	// NoTTL if no expiration is set, or ErrNotFound.
	TTL(key []byte) (seconds int64, err error)

	// GarbageCollect physically removes expired entries and returns how many were removed.
	GarbageCollect() (removed int, err error)

	// --------------------------------------------------------------------------
	// Snapshots
	// --------------------------------------------------------------------------

	// NewSnapshot returns an immutable point-in-time view of the database.
	// The snapshot must be released with Release.
	NewSnapshot() (snap Snapshot, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists all live entries (including their expiration) to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load adds the entries of a dump produced by Save. Existing keys are overwritten.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database.
	Close() (err error)
}

// Snapshot is a consistent read-only view of the database at the time it was taken.
type Snapshot interface {
	Reader

	// Release frees the resources held by the snapshot. It is safe to call Release more than once.
	Release()
}

// IterOptions configures a new iterator
type IterOptions struct {
	// Prefix restricts the iterator to keys starting with Prefix. Seeks before the prefix
	// land on its first key, the iterator turns invalid at the first key past it.
	// An empty Prefix iterates the whole keyspace.
	Prefix []byte
}

// Iterator is a forward cursor over a sorted keyspace.
// Key and Value are only valid until the next call to Seek, Next or Close.
type Iterator interface {
	// Seek positions the iterator at the first key >= key.
	Seek(key []byte)
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool
	// Next advances to the next entry.
	Next()
	// Key returns the key of the current entry.
	Key() []byte
	// Value returns the value of the current entry.
	Value() []byte
	// Err returns the first error the iterator encountered.
	Err() error
	// Close releases the iterator.
	Close() error
}
