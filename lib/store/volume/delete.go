package volume

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ValentinKolb/hkv/lib/store"
)

// RangeError reports the entity at which a range delete stopped
type RangeError struct {
	Type store.DataType
	Key  []byte
	Err  error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range delete stopped at %s %q: %v", e.Type, e.Key, e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// entity is one collected (type, key) pair of a range
type entity struct {
	typ store.DataType
	key []byte
}

// deleteChunk bounds the number of entities collected from one snapshot
var deleteChunk = 256

// RangeDelete removes every entity of every collection type with start <= key <= end,
// at most limit entities (limit <= 0 means all). It returns the number of removed entities,
// entities that vanished in the meantime are visited but not counted.
//
// The range is processed in chunks: each chunk is collected from a fresh snapshot that
// is released before its entities are deleted, no read view is open during a write.
//
// The operation is not atomic across entities: it stops at the first failing delete and
// returns a *RangeError naming that entity, deletions before it stay in effect. Since
// deleting an already removed entity is a no-op, callers can resume from RangeError.Key.
func RangeDelete(cols Collections, start, end []byte, limit int) (deleted int64, err error) {
	defer opMetrics.Observe("rangedel", time.Now(), &err)

	var (
		visited int
		last    *entity
	)
	for {
		want := deleteChunk
		if limit > 0 {
			want = min(want, limit-visited)
		}
		if want <= 0 {
			break
		}

		chunk, err := collectChunk(cols, start, end, last, want)
		if err != nil {
			return deleted, err
		}
		for _, ent := range chunk {
			n, err := cols[ent.typ].DeleteKey(ent.key)
			if err != nil {
				log.Warningf("range delete [%q, %q] aborted at %s %q after %d entities: %v", start, end, ent.typ, ent.key, deleted, err)
				opMetrics.Add("aborted_total", 1)
				return deleted, &RangeError{Type: ent.typ, Key: ent.key, Err: err}
			}
			visited++
			if n > 0 {
				deleted++
				opMetrics.Add("deleted_total", 1)
			}
		}
		if len(chunk) < want {
			break
		}
		tail := chunk[len(chunk)-1]
		last = &tail
	}

	log.Debugf("range delete [%q, %q] removed %d of %d entities", start, end, deleted, visited)
	return deleted, nil
}

// collectChunk reads up to n entities that follow last (or start at start) in merge order.
// The iterator is closed before it returns.
func collectChunk(cols Collections, start, end []byte, last *entity, n int) ([]entity, error) {
	from := start
	if last != nil {
		from = last.key
	}
	it, err := NewIterator(cols, from, end, 0, true)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	chunk := make([]entity, 0, n)
	for ; it.Valid() && len(chunk) < n; it.Next() {
		typ, key := it.Type(), it.Key()
		// entities up to and including last were handled by the previous chunk
		if last != nil && bytes.Equal(key, last.key) && typ.Rank() <= last.typ.Rank() {
			continue
		}
		chunk = append(chunk, entity{typ: typ, key: append([]byte(nil), key...)})
	}
	return chunk, it.Err()
}
