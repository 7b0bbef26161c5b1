package hstore

import (
	"errors"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/store"
)

// --------------------------------------------------------------------------
// Expiration
// --------------------------------------------------------------------------

// expireLocked clears the collection and, if put is not nil, lets it stage the meta record
// with its expiration. The record lock of key must be held.
func (e *Engine) expireLocked(key []byte, put func(batch *db.Batch, metaKey, meta []byte)) (int64, error) {
	meta, found, err := readMeta(e.db, key)
	if err != nil {
		return 0, err
	}
	if !found || meta.Empty() {
		return 0, nil
	}

	batch, err := e.clearBatch(key)
	if err != nil {
		return 0, err
	}
	metaKey := EncodeMeta(key)
	if put == nil {
		batch.Delete(metaKey)
	} else {
		put(batch, metaKey, EncodeMetaRecord(MetaRecord{}))
	}
	if err := e.write(batch); err != nil {
		return 0, err
	}
	return 1, nil
}

// Expire clears the collection key and lets its meta record expire after seconds.
// Fields written afterwards inherit the deadline. A non-positive seconds value clears the
// collection immediately. It returns 0 if the collection does not exist or is empty, 1 otherwise.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Expire(key []byte, seconds int64) (n int64, err error) {
	defer e.metrics.Observe("expire", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return 0, err
	}
	unlock := e.lock(key)
	defer unlock()

	if seconds <= 0 {
		return e.expireLocked(key, nil)
	}
	return e.expireLocked(key, func(batch *db.Batch, metaKey, meta []byte) {
		batch.PutWithTTL(metaKey, meta, seconds)
	})
}

// ExpireAt is Expire with an absolute deadline in unix seconds.
// Deadlines that are not in the future clear the collection immediately.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) ExpireAt(key []byte, unix int64) (n int64, err error) {
	defer e.metrics.Observe("expireat", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return 0, err
	}
	unlock := e.lock(key)
	defer unlock()

	if unix <= e.clock().Unix() {
		return e.expireLocked(key, nil)
	}
	return e.expireLocked(key, func(batch *db.Batch, metaKey, meta []byte) {
		batch.PutWithExpireAt(metaKey, meta, unix)
	})
}

// TimeToLive returns the remaining lifetime of the collection in seconds,
// -1 if it has no expiration and -2 if it does not exist.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) TimeToLive(key []byte) (ttl int64, err error) {
	defer e.metrics.Observe("ttl", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return 0, err
	}
	meta, found, err := readMeta(e.db, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return -2, nil
	}

	ttl, err = e.db.TTL(EncodeMeta(key))
	if errors.Is(err, db.ErrNotFound) {
		// expired in between
		return -2, nil
	}
	if err != nil {
		return 0, store.FromDB("read ttl", err)
	}
	if ttl == db.NoTTL {
		if meta.Empty() {
			return -2, nil
		}
		return -1, nil
	}
	return ttl, nil
}

// Persist removes the expiration of the collection and all of its fields.
// It reports whether an expiration was removed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Persist(key []byte) (persisted bool, err error) {
	defer e.metrics.Observe("persist", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return false, err
	}
	unlock := e.lock(key)
	defer unlock()

	metaKey := EncodeMeta(key)
	raw, err := e.db.Get(metaKey)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, store.FromDB("read meta", err)
	}
	ttl, err := e.db.TTL(metaKey)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, store.FromDB("read ttl", err)
	}
	if ttl == db.NoTTL {
		return false, nil
	}

	batch := db.NewBatch()
	batch.Put(metaKey, raw)
	err = scanBlock(e.db, key, func(field, value []byte) bool {
		batch.Put(EncodeField(key, field), append([]byte(nil), value...))
		return true
	})
	if err != nil {
		return false, err
	}
	if err := e.write(batch); err != nil {
		return false, err
	}
	return true, nil
}
