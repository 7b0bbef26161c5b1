package internal

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Entry Type (key-value pair with metadata)
// --------------------------------------------------------------------------

// Entry stores a key-value pair with its expiration
type Entry struct {
	Key      []byte
	Value    []byte
	ExpireAt int64 // unix nanoseconds, 0 = no expiration
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{Key: %q, Value: %d bytes, ExpireAt: %d}", e.Key, len(e.Value), e.ExpireAt)
}

// Expired returns whether the entry is expired at now
func (e Entry) Expired(now time.Time) bool {
	return e.ExpireAt != 0 && e.ExpireAt <= now.UnixNano()
}

// Less orders entries bytewise by key
func Less(a, b Entry) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// --------------------------------------------------------------------------
// Tree
// --------------------------------------------------------------------------

// Degree of the b-tree nodes
const Degree = 32

// NewTree creates an empty tree of entries
func NewTree() *btree.BTreeG[Entry] {
	return btree.NewG[Entry](Degree, Less)
}

// Probe returns an entry that can be used to look up key in the tree
func Probe(key []byte) Entry {
	return Entry{Key: key}
}

// Chunk collects up to n live entries with a key >= from (or > from if exclusive).
// Expired entries are skipped.
//
// Thread-safety: The caller must make sure the tree is not modified concurrently
// (snapshots created with Clone are never modified).
func Chunk(tree *btree.BTreeG[Entry], from []byte, exclusive bool, n int, now time.Time) []Entry {
	chunk := make([]Entry, 0, n)
	tree.AscendGreaterOrEqual(Probe(from), func(e Entry) bool {
		if exclusive && bytes.Equal(e.Key, from) {
			return true
		}
		if e.Expired(now) {
			return true
		}
		chunk = append(chunk, e)
		return len(chunk) < n
	})
	return chunk
}
