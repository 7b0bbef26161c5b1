package hstore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/ValentinKolb/hkv/lib/store/volume"
)

// --------------------------------------------------------------------------
// Shared Cursor
// --------------------------------------------------------------------------

// cursor is a bounded, limited substrate iterator, optionally pinned to a snapshot
type cursor struct {
	it      db.Iterator
	snap    db.Snapshot // nil for live scans
	limit   int
	emitted int
	done    bool
	err     error
}

func openCursor(database db.KVDB, useSnapshot bool, limit int, prefix []byte) (*cursor, error) {
	c := &cursor{limit: limit}

	var r db.Reader = database
	if useSnapshot {
		snap, err := database.NewSnapshot()
		if err != nil {
			return nil, store.FromDB("create snapshot", err)
		}
		c.snap = snap
		r = snap
	}

	it, err := r.NewIterator(&db.IterOptions{Prefix: prefix})
	if err != nil {
		if c.snap != nil {
			c.snap.Release()
		}
		return nil, store.FromDB("open iterator", err)
	}
	c.it = it
	return c, nil
}

// exhausted checks the substrate iterator and the limit, it marks the cursor as done
func (c *cursor) exhausted() bool {
	if c.done {
		return true
	}
	if !c.it.Valid() {
		c.err = store.FromDB("iterate", c.it.Err())
		c.done = true
		return true
	}
	if c.limit > 0 && c.emitted >= c.limit {
		c.done = true
		return true
	}
	return false
}

func (c *cursor) close() error {
	err := c.it.Close()
	if c.snap != nil {
		c.snap.Release()
		c.snap = nil
	}
	c.done = true
	return err
}

// --------------------------------------------------------------------------
// Field Iterator
// --------------------------------------------------------------------------

// FieldIterator walks the fields of one collection in ascending order.
// Field and Value are only valid until the next call to Next or Close.
type FieldIterator struct {
	c      *cursor
	prefix []byte
	end    []byte
}

// ScanFields returns an iterator over the fields start <= field <= end of key.
// An empty end means unbounded, a limit <= 0 means uncapped. With useSnapshot the
// iterator sees the collection as it was when the scan started.
// The iterator must be closed.
//
// Thread-safety: This method is thread-safe, the iterator is not.
func (e *Engine) ScanFields(key, start, end []byte, limit int, useSnapshot bool) (it *FieldIterator, err error) {
	defer e.metrics.Observe("scan", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return nil, err
	}
	c, err := openCursor(e.db, useSnapshot, limit, fieldPrefix(key, 0))
	if err != nil {
		return nil, err
	}

	it = &FieldIterator{
		c:      c,
		prefix: fieldPrefix(key, 0),
		end:    end,
	}
	c.it.Seek(EncodeField(key, start))
	it.settle()
	return it, nil
}

func (it *FieldIterator) settle() {
	if it.c.exhausted() {
		return
	}
	k := it.c.it.Key()
	if !bytes.HasPrefix(k, it.prefix) {
		it.c.done = true
		return
	}
	if len(it.end) > 0 && bytes.Compare(k[len(it.prefix):], it.end) > 0 {
		it.c.done = true
	}
}

// Valid reports whether the iterator is positioned at a field
func (it *FieldIterator) Valid() bool {
	return !it.c.done
}

// Next advances to the next field
func (it *FieldIterator) Next() {
	if it.c.done {
		return
	}
	it.c.emitted++
	it.c.it.Next()
	it.settle()
}

// Field returns the current field name
func (it *FieldIterator) Field() []byte {
	return it.c.it.Key()[len(it.prefix):]
}

// Value returns the current value
func (it *FieldIterator) Value() []byte {
	return it.c.it.Value()
}

// Err returns the first error encountered
func (it *FieldIterator) Err() error {
	return it.c.err
}

// Close releases the iterator and its snapshot
func (it *FieldIterator) Close() error {
	return it.c.close()
}

// --------------------------------------------------------------------------
// Meta Iterator
// --------------------------------------------------------------------------

// MetaIterator walks the meta records of all hash collections in ascending key order.
// Key is only valid until the next call to Next or Close.
type MetaIterator struct {
	c              *cursor
	end            []byte
	skipEmptyIndex bool
	meta           MetaRecord
}

// ScanMeta returns an iterator over the meta records with start <= key <= end.
// An empty end means unbounded, a limit <= 0 means uncapped. With skipEmptyIndex
// records without index blob are skipped (and not counted towards the limit).
// The iterator must be closed.
//
// Thread-safety: This method is thread-safe, the iterator is not.
func (e *Engine) ScanMeta(start, end []byte, limit int, useSnapshot, skipEmptyIndex bool) (it *MetaIterator, err error) {
	defer e.metrics.Observe("scanmeta", time.Now(), &err)

	c, err := openCursor(e.db, useSnapshot, limit, []byte{TagMeta})
	if err != nil {
		return nil, err
	}
	it = &MetaIterator{
		c:              c,
		end:            end,
		skipEmptyIndex: skipEmptyIndex,
	}
	c.it.Seek(EncodeMeta(start))
	it.settle()
	return it, nil
}

func (it *MetaIterator) settle() {
	for !it.c.exhausted() {
		k := it.c.it.Key()
		if len(k) == 0 || k[0] != TagMeta {
			it.c.done = true
			return
		}
		if len(it.end) > 0 && bytes.Compare(k[1:], it.end) > 0 {
			it.c.done = true
			return
		}

		meta, err := DecodeMetaRecord(it.c.it.Value())
		if err != nil {
			it.c.err = store.WrapError(store.RetCCorruption, fmt.Sprintf("meta record of %q", k[1:]), err)
			it.c.done = true
			return
		}
		if it.skipEmptyIndex && len(meta.Index) == 0 {
			it.c.it.Next()
			continue
		}
		it.meta = meta
		return
	}
}

// Valid reports whether the iterator is positioned at a meta record
func (it *MetaIterator) Valid() bool {
	return !it.c.done
}

// Next advances to the next meta record
func (it *MetaIterator) Next() {
	if it.c.done {
		return
	}
	it.c.emitted++
	it.c.it.Next()
	it.settle()
}

// Key returns the collection key of the current record
func (it *MetaIterator) Key() []byte {
	return it.c.it.Key()[1:]
}

// Meta returns the decoded current record
func (it *MetaIterator) Meta() MetaRecord {
	return it.meta
}

// Volume returns the volume counter of the current record
func (it *MetaIterator) Volume() int64 {
	return it.meta.Volume
}

// Err returns the first error encountered
func (it *MetaIterator) Err() error {
	return it.c.err
}

// Close releases the iterator and its snapshot
func (it *MetaIterator) Close() error {
	return it.c.close()
}

// --------------------------------------------------------------------------
// Volume Collection
// --------------------------------------------------------------------------

var _ volume.Collection = (*Engine)(nil)

// VolumeScan exposes the meta records of all hash collections to the volume iterator
func (e *Engine) VolumeScan(start, end []byte, limit int, useSnapshot bool) (volume.Source, error) {
	it, err := e.ScanMeta(start, end, limit, useSnapshot, false)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteKey removes the whole collection key
func (e *Engine) DeleteKey(key []byte) (int64, error) {
	return e.DeleteCollection(key)
}
