package hstore

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/lockmgr"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("hstore")

// Options configures a hash engine
type Options struct {
	MaxKeyLength int                  // Exclusive upper bound for collection key lengths (0 = store.DefaultMaxKeyLength)
	Locks        lockmgr.ILockManager // Record lock table, may be shared with other engines (nil = private table)
	Clock        func() time.Time     // Source of the current time, must match the substrate clock (nil = time.Now)
}

// Engine stores hash collections on an ordered substrate
type Engine struct {
	db        db.KVDB
	locks     lockmgr.ILockManager
	maxKeyLen int
	clock     func() time.Time
	metrics   *store.OpMetrics
}

// New creates a hash engine on database. The substrate must support db.FeatureAll.
func New(database db.KVDB, opts *Options) (*Engine, error) {
	if !database.SupportsFeature(db.FeatureAll) {
		return nil, store.NewError(store.RetCUnsupportedOperation,
			fmt.Sprintf("substrate %s lacks features required by the hash engine", database.GetInfo().DbType))
	}
	if opts == nil {
		opts = &Options{}
	}

	e := &Engine{
		db:        database,
		locks:     opts.Locks,
		maxKeyLen: opts.MaxKeyLength,
		clock:     opts.Clock,
		metrics:   store.NewOpMetrics("hkv_hash"),
	}
	if e.locks == nil {
		e.locks = lockmgr.NewLockManager(nil)
	}
	if e.maxKeyLen <= 0 {
		e.maxKeyLen = store.DefaultMaxKeyLength
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e, nil
}

// Metrics returns the operation metrics of the engine
func (e *Engine) Metrics() *store.OpMetrics {
	return e.metrics
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (e *Engine) validate(key []byte) error {
	return store.ValidateKey(key, e.maxKeyLen)
}

// lock takes the record lock of the collection key
func (e *Engine) lock(key []byte) func() {
	return e.locks.Lock(EncodeMeta(key))
}

// readMeta returns the meta record of key, found is false if there is none
func readMeta(r db.Reader, key []byte) (m MetaRecord, found bool, err error) {
	raw, err := r.Get(EncodeMeta(key))
	if errors.Is(err, db.ErrNotFound) {
		return MetaRecord{}, false, nil
	}
	if err != nil {
		return MetaRecord{}, false, store.FromDB("read meta", err)
	}
	m, err = DecodeMetaRecord(raw)
	if err != nil {
		return MetaRecord{}, false, err
	}
	return m, true, nil
}

// readField returns the value of a field, found is false if it does not exist
func readField(r db.Reader, key, field []byte) (value []byte, found bool, err error) {
	value, err = r.Get(EncodeField(key, field))
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.FromDB("read field", err)
	}
	return value, true, nil
}

func (e *Engine) write(batch *db.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return store.FromDB("write batch", e.db.Write(batch))
}

// scanBlock calls fn for every field of key in ascending order until fn returns false
func scanBlock(r db.Reader, key []byte, fn func(field, value []byte) bool) error {
	prefix := fieldPrefix(key, 0)
	it, err := r.NewIterator(&db.IterOptions{Prefix: prefix})
	if err != nil {
		return store.FromDB("open iterator", err)
	}
	defer it.Close()

	for it.Seek(prefix); it.Valid(); it.Next() {
		k := it.Key()
		if !fn(k[len(prefix):], it.Value()) {
			break
		}
	}
	return store.FromDB("scan fields", it.Err())
}

// snapshot returns a snapshot of the substrate that must be released
func (e *Engine) snapshot() (db.Snapshot, error) {
	snap, err := e.db.NewSnapshot()
	if err != nil {
		return nil, store.FromDB("create snapshot", err)
	}
	return snap, nil
}

// fieldKeys returns the physical keys of all fields of key.
// The iterator is closed before it returns, so callers may write afterwards.
func fieldKeys(r db.Reader, key []byte) ([][]byte, error) {
	var keys [][]byte
	err := scanBlock(r, key, func(field, _ []byte) bool {
		keys = append(keys, EncodeField(key, field))
		return true
	})
	return keys, err
}

// --------------------------------------------------------------------------
// Point Operations
// --------------------------------------------------------------------------

// Get returns the value of field in the collection key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Get(key, field []byte) (value []byte, err error) {
	defer e.metrics.Observe("get", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return nil, err
	}
	value, found, err := readField(e.db, key, field)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.NewError(store.RetCNotFound, fmt.Sprintf("field %q of %q not found", field, key))
	}
	return value, nil
}

// Exists reports whether field exists in the collection key
func (e *Engine) Exists(key, field []byte) (bool, error) {
	_, err := e.Get(key, field)
	if store.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// StringLength returns the length of the value of field, 0 if it does not exist
func (e *Engine) StringLength(key, field []byte) (int64, error) {
	value, err := e.Get(key, field)
	if store.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(len(value)), nil
}

// setLocked writes field = value and adjusts the counters. Nothing is written if the
// value is unchanged. The record lock of key must be held.
func (e *Engine) setLocked(key, field, value []byte) (inserted, changed bool, err error) {
	meta, _, err := readMeta(e.db, key)
	if err != nil {
		return false, false, err
	}
	old, found, err := readField(e.db, key, field)
	if err != nil {
		return false, false, err
	}
	if found && bytes.Equal(old, value) {
		return false, false, nil
	}

	if found {
		meta.IncrementMeta(0, int64(len(value)-len(old)))
	} else {
		meta.IncrementMeta(1, entrySize(key, field, value))
	}

	metaKey := EncodeMeta(key)
	batch := db.NewBatch()
	batch.PutKeepTTL(metaKey, EncodeMetaRecord(meta))
	batch.PutInheritTTL(EncodeField(key, field), value, metaKey)
	if err := e.write(batch); err != nil {
		return false, false, err
	}
	return !found, true, nil
}

// Set writes field = value and reports whether the field was newly inserted.
// Fields written to a collection with a ttl expire together with it.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Set(key, field, value []byte) (inserted bool, err error) {
	defer e.metrics.Observe("set", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return false, err
	}
	unlock := e.lock(key)
	defer unlock()

	inserted, _, err = e.setLocked(key, field, value)
	return inserted, err
}

// SetIfAbsent writes field = value only if field does not exist yet and reports whether it did.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) SetIfAbsent(key, field, value []byte) (set bool, err error) {
	defer e.metrics.Observe("setnx", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return false, err
	}
	unlock := e.lock(key)
	defer unlock()

	if _, found, err := readField(e.db, key, field); err != nil || found {
		return false, err
	}
	set, _, err = e.setLocked(key, field, value)
	return set, err
}

// MultiSet writes all pairs in one batch and reports per pair whether it changed the collection,
// and how many fields were newly inserted. Later pairs with the same field win.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) MultiSet(key []byte, pairs []store.FieldValue) (changed []bool, inserted int64, err error) {
	defer e.metrics.Observe("mset", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return nil, 0, err
	}
	unlock := e.lock(key)
	defer unlock()

	meta, _, err := readMeta(e.db, key)
	if err != nil {
		return nil, 0, err
	}

	metaKey := EncodeMeta(key)
	pending := make(map[string][]byte, len(pairs)) // fields already written by this batch
	fields := db.NewBatch()
	changed = make([]bool, len(pairs))

	for i, p := range pairs {
		old, found := pending[string(p.Field)]
		if !found {
			old, found, err = readField(e.db, key, p.Field)
			if err != nil {
				return nil, 0, err
			}
		}
		if found && bytes.Equal(old, p.Value) {
			continue
		}

		if found {
			meta.IncrementMeta(0, int64(len(p.Value)-len(old)))
		} else {
			meta.IncrementMeta(1, entrySize(key, p.Field, p.Value))
			inserted++
		}
		pending[string(p.Field)] = p.Value
		fields.PutInheritTTL(EncodeField(key, p.Field), p.Value, metaKey)
		changed[i] = true
	}
	if fields.Len() == 0 {
		return changed, 0, nil
	}

	batch := db.NewBatch()
	batch.PutKeepTTL(metaKey, EncodeMetaRecord(meta))
	for _, op := range fields.Ops() {
		batch.PutInheritTTL(op.Key, op.Value, op.Ref)
	}
	if err := e.write(batch); err != nil {
		return nil, 0, err
	}
	return changed, inserted, nil
}

// MultiGet looks up every field independently. A missing field sets the Err of its slot
// to a NotFound error, the call itself only fails on invalid arguments.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) MultiGet(key []byte, fields [][]byte) (results []store.FieldResult, err error) {
	defer e.metrics.Observe("mget", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return nil, err
	}
	results = make([]store.FieldResult, len(fields))
	for i, field := range fields {
		value, found, err := readField(e.db, key, field)
		switch {
		case err != nil:
			results[i].Err = err
		case !found:
			results[i].Err = store.NewError(store.RetCNotFound, fmt.Sprintf("field %q of %q not found", field, key))
		default:
			results[i].Value = value
		}
	}
	return results, nil
}

// Delete removes field from the collection key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Delete(key, field []byte) (err error) {
	defer e.metrics.Observe("del", time.Now(), &err)

	removed, err := e.deleteFields(key, [][]byte{field})
	if err != nil {
		return err
	}
	if removed == 0 {
		return store.NewError(store.RetCNotFound, fmt.Sprintf("field %q of %q not found", field, key))
	}
	return nil
}

// DeleteMany removes all given fields in one batch and returns how many existed
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) DeleteMany(key []byte, fields [][]byte) (removed int64, err error) {
	defer e.metrics.Observe("mdel", time.Now(), &err)
	return e.deleteFields(key, fields)
}

func (e *Engine) deleteFields(key []byte, fields [][]byte) (int64, error) {
	if err := e.validate(key); err != nil {
		return 0, err
	}
	unlock := e.lock(key)
	defer unlock()

	meta, metaFound, err := readMeta(e.db, key)
	if err != nil {
		return 0, err
	}

	batch := db.NewBatch()
	seen := make(map[string]struct{}, len(fields))
	var removed int64
	for _, field := range fields {
		if _, dup := seen[string(field)]; dup {
			continue
		}
		seen[string(field)] = struct{}{}

		old, found, err := readField(e.db, key, field)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		meta.IncrementMeta(-1, -entrySize(key, field, old))
		batch.Delete(EncodeField(key, field))
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	// fields without a meta record are left over garbage, removing them must not create one
	if metaFound {
		batch.PutKeepTTL(EncodeMeta(key), EncodeMetaRecord(meta))
	}
	if err := e.write(batch); err != nil {
		return 0, err
	}
	return removed, nil
}

// clearBatch returns a batch that removes all fields of key
func (e *Engine) clearBatch(key []byte) (*db.Batch, error) {
	keys, err := fieldKeys(e.db, key)
	if err != nil {
		return nil, err
	}
	batch := db.NewBatch()
	for _, k := range keys {
		batch.Delete(k)
	}
	return batch, nil
}

// DeleteCollection removes all fields and the meta record of key.
// It returns 1 if a non-empty collection was removed and 0 otherwise, a missing
// collection is not an error.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) DeleteCollection(key []byte) (removed int64, err error) {
	defer e.metrics.Observe("delcol", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return 0, err
	}
	unlock := e.lock(key)
	defer unlock()

	meta, found, err := readMeta(e.db, key)
	if err != nil {
		return 0, err
	}

	batch, err := e.clearBatch(key)
	if err != nil {
		return 0, err
	}
	if found {
		batch.Delete(EncodeMeta(key))
	}
	if err := e.write(batch); err != nil {
		return 0, err
	}

	if found && !meta.Empty() {
		return 1, nil
	}
	return 0, nil
}

// Length returns the number of fields of key, 0 if the collection does not exist.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Length(key []byte) (length int64, err error) {
	defer e.metrics.Observe("len", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return 0, err
	}
	meta, _, err := readMeta(e.db, key)
	return meta.Length, err
}

// --------------------------------------------------------------------------
// Full Collection Reads
// --------------------------------------------------------------------------

// readAll calls fn for every field of key on a snapshot
func (e *Engine) readAll(key []byte, fn func(field, value []byte)) error {
	if err := e.validate(key); err != nil {
		return err
	}
	snap, err := e.snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	return scanBlock(snap, key, func(field, value []byte) bool {
		fn(field, value)
		return true
	})
}

// GetAll returns all fields of key with their values in field order
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) GetAll(key []byte) (pairs []store.FieldValue, err error) {
	defer e.metrics.Observe("getall", time.Now(), &err)

	err = e.readAll(key, func(field, value []byte) {
		pairs = append(pairs, store.FieldValue{
			Field: append([]byte(nil), field...),
			Value: append([]byte(nil), value...),
		})
	})
	return pairs, err
}

// Keys returns all field names of key in order
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Keys(key []byte) (fields [][]byte, err error) {
	defer e.metrics.Observe("keys", time.Now(), &err)

	err = e.readAll(key, func(field, _ []byte) {
		fields = append(fields, append([]byte(nil), field...))
	})
	return fields, err
}

// Values returns all values of key in field order
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Values(key []byte) (values [][]byte, err error) {
	defer e.metrics.Observe("vals", time.Now(), &err)

	err = e.readAll(key, func(_, value []byte) {
		values = append(values, append([]byte(nil), value...))
	})
	return values, err
}

// --------------------------------------------------------------------------
// Index Blob
// --------------------------------------------------------------------------

// GetIndex returns the opaque index blob stored in the meta record of key
func (e *Engine) GetIndex(key []byte) ([]byte, error) {
	if err := e.validate(key); err != nil {
		return nil, err
	}
	meta, found, err := readMeta(e.db, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.NewError(store.RetCNotFound, fmt.Sprintf("collection %q not found", key))
	}
	return meta.Index, nil
}

// SetIndex replaces the index blob of key. A missing meta record is created.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) SetIndex(key, index []byte) (err error) {
	defer e.metrics.Observe("setindex", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return err
	}
	unlock := e.lock(key)
	defer unlock()

	meta, _, err := readMeta(e.db, key)
	if err != nil {
		return err
	}
	meta.Index = append([]byte(nil), index...)

	batch := db.NewBatch()
	batch.PutKeepTTL(EncodeMeta(key), EncodeMetaRecord(meta))
	return e.write(batch)
}
