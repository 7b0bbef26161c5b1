package kvstore

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/lockmgr"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/ValentinKolb/hkv/lib/store/volume"
)

// Tag prefixes all plain key-value entries
const Tag = byte(store.TypeKV)

// Options configures a key-value engine
type Options struct {
	MaxKeyLength int                  // Exclusive upper bound for key lengths (0 = store.DefaultMaxKeyLength)
	Locks        lockmgr.ILockManager // Record lock table (nil = private table)
}

// Engine stores plain key-value entries next to the collection keyspaces
type Engine struct {
	db        db.KVDB
	locks     lockmgr.ILockManager
	maxKeyLen int
	metrics   *store.OpMetrics
}

// New creates a key-value engine on database
func New(database db.KVDB, opts *Options) (*Engine, error) {
	if !database.SupportsFeature(db.FeatureAll) {
		return nil, store.NewError(store.RetCUnsupportedOperation,
			fmt.Sprintf("substrate %s lacks features required by the kv engine", database.GetInfo().DbType))
	}
	if opts == nil {
		opts = &Options{}
	}
	e := &Engine{
		db:        database,
		locks:     opts.Locks,
		maxKeyLen: opts.MaxKeyLength,
		metrics:   store.NewOpMetrics("hkv_kv"),
	}
	if e.locks == nil {
		e.locks = lockmgr.NewLockManager(nil)
	}
	if e.maxKeyLen <= 0 {
		e.maxKeyLen = store.DefaultMaxKeyLength
	}
	return e, nil
}

// Metrics returns the operation metrics of the engine
func (e *Engine) Metrics() *store.OpMetrics {
	return e.metrics
}

// EncodeKey returns the physical key of a plain entry
func EncodeKey(key []byte) []byte {
	buf := make([]byte, 1+len(key))
	buf[0] = Tag
	copy(buf[1:], key)
	return buf
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Set stores value under key and clears any ttl
func (e *Engine) Set(key, value []byte) (err error) {
	defer e.metrics.Observe("set", time.Now(), &err)

	if err := store.ValidateKey(key, e.maxKeyLen); err != nil {
		return err
	}
	return store.FromDB("put", e.db.Put(EncodeKey(key), value))
}

// SetWithTTL stores value under key, it expires after seconds.
// A non-positive ttl deletes the key.
func (e *Engine) SetWithTTL(key, value []byte, seconds int64) (err error) {
	defer e.metrics.Observe("setex", time.Now(), &err)

	if err := store.ValidateKey(key, e.maxKeyLen); err != nil {
		return err
	}
	batch := db.NewBatch()
	batch.PutWithTTL(EncodeKey(key), value, seconds)
	return store.FromDB("put", e.db.Write(batch))
}

// Get returns the value of key
func (e *Engine) Get(key []byte) (value []byte, err error) {
	defer e.metrics.Observe("get", time.Now(), &err)

	if err := store.ValidateKey(key, e.maxKeyLen); err != nil {
		return nil, err
	}
	value, err = e.db.Get(EncodeKey(key))
	if err != nil {
		return nil, store.FromDB(fmt.Sprintf("key %q", key), err)
	}
	return value, nil
}

// Delete removes key and returns 1 if it existed
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Delete(key []byte) (removed int64, err error) {
	defer e.metrics.Observe("del", time.Now(), &err)

	if err := store.ValidateKey(key, e.maxKeyLen); err != nil {
		return 0, err
	}
	physical := EncodeKey(key)
	unlock := e.locks.Lock(physical)
	defer unlock()

	if _, err := e.db.Get(physical); errors.Is(err, db.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, store.FromDB("get", err)
	}
	if err := e.db.Delete(physical); err != nil {
		return 0, store.FromDB("delete", err)
	}
	return 1, nil
}

// TimeToLive returns the remaining ttl of key in seconds, -1 without ttl and -2 if it does not exist
func (e *Engine) TimeToLive(key []byte) (ttl int64, err error) {
	defer e.metrics.Observe("ttl", time.Now(), &err)

	if err := store.ValidateKey(key, e.maxKeyLen); err != nil {
		return 0, err
	}
	ttl, err = e.db.TTL(EncodeKey(key))
	if errors.Is(err, db.ErrNotFound) {
		return -2, nil
	}
	if err != nil {
		return 0, store.FromDB("ttl", err)
	}
	return ttl, nil
}

// DeleteKey implements volume.Collection
func (e *Engine) DeleteKey(key []byte) (int64, error) {
	return e.Delete(key)
}

// VolumeScan implements volume.Collection
func (e *Engine) VolumeScan(start, end []byte, limit int, useSnapshot bool) (volume.Source, error) {
	it, err := e.Scan(start, end, limit, useSnapshot)
	if err != nil {
		return nil, err
	}
	return it, nil
}

var _ volume.Collection = (*Engine)(nil)

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// Iterator walks plain entries in ascending key order
type Iterator struct {
	it      db.Iterator
	snap    db.Snapshot
	end     []byte
	limit   int
	emitted int
	done    bool
	err     error
}

// Scan returns an iterator over all entries with start <= key <= end.
// An empty end means unbounded, a limit <= 0 means uncapped. The iterator must be closed.
func (e *Engine) Scan(start, end []byte, limit int, useSnapshot bool) (iter *Iterator, err error) {
	defer e.metrics.Observe("scan", time.Now(), &err)

	iter = &Iterator{end: end, limit: limit}
	var r db.Reader = e.db
	if useSnapshot {
		if iter.snap, err = e.db.NewSnapshot(); err != nil {
			return nil, store.FromDB("create snapshot", err)
		}
		r = iter.snap
	}
	if iter.it, err = r.NewIterator(&db.IterOptions{Prefix: []byte{Tag}}); err != nil {
		if iter.snap != nil {
			iter.snap.Release()
		}
		return nil, store.FromDB("open iterator", err)
	}
	iter.it.Seek(EncodeKey(start))
	iter.settle()
	return iter, nil
}

func (i *Iterator) settle() {
	if !i.it.Valid() {
		i.err = store.FromDB("iterate", i.it.Err())
		i.done = true
		return
	}
	k := i.it.Key()
	switch {
	case len(k) == 0 || k[0] != Tag:
		i.done = true
	case len(i.end) > 0 && bytes.Compare(k[1:], i.end) > 0:
		i.done = true
	case i.limit > 0 && i.emitted >= i.limit:
		i.done = true
	}
}

// Valid reports whether the iterator is positioned at an entry
func (i *Iterator) Valid() bool { return !i.done }

// Next advances to the next entry
func (i *Iterator) Next() {
	if i.done {
		return
	}
	i.emitted++
	i.it.Next()
	i.settle()
}

// Key returns the logical key of the current entry
func (i *Iterator) Key() []byte { return i.it.Key()[1:] }

// Value returns the value of the current entry
func (i *Iterator) Value() []byte { return i.it.Value() }

// Volume returns len(key) + len(value) of the current entry
func (i *Iterator) Volume() int64 { return int64(len(i.Key()) + len(i.Value())) }

// Err returns the first error encountered
func (i *Iterator) Err() error { return i.err }

// Close releases the iterator and its snapshot
func (i *Iterator) Close() error {
	err := i.it.Close()
	if i.snap != nil {
		i.snap.Release()
		i.snap = nil
	}
	i.done = true
	return err
}
