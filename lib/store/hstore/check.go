package hstore

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/store"
)

// --------------------------------------------------------------------------
// Consistency Check & Repair
// --------------------------------------------------------------------------

// recount walks the field block of key on r and returns the true counters
func recount(r db.Reader, key []byte) (length, vol int64, err error) {
	it, err := r.NewIterator(&db.IterOptions{Prefix: fieldPrefix(key, 0)})
	if err != nil {
		return 0, 0, store.FromDB("open iterator", err)
	}
	defer it.Close()

	for it.Seek(EncodeField(key, nil)); it.Valid(); it.Next() {
		k := it.Key()
		if len(k) == 0 || k[0] != TagField {
			break
		}
		owner, field, err := DecodeField(k)
		if err != nil {
			return 0, 0, err
		}
		if !bytes.Equal(owner, key) {
			break
		}
		length++
		vol += entrySize(key, field, it.Value())
	}
	return length, vol, store.FromDB("scan fields", it.Err())
}

// inspect compares the stored counters of key with a fresh count on a snapshot.
// The record lock of key must be held.
func (e *Engine) inspect(key []byte) (stored MetaRecord, length, vol int64, err error) {
	snap, err := e.snapshot()
	if err != nil {
		return MetaRecord{}, 0, 0, err
	}
	defer snap.Release()

	stored, found, err := readMeta(snap, key)
	if err != nil {
		return MetaRecord{}, 0, 0, err
	}
	if !found {
		return MetaRecord{}, 0, 0, store.NewError(store.RetCNotFound, fmt.Sprintf("collection %q not found", key))
	}
	length, vol, err = recount(snap, key)
	return stored, length, vol, err
}

func mismatch(key []byte, stored MetaRecord, length, vol int64) error {
	return store.NewError(store.RetCCorruption, fmt.Sprintf(
		"meta of %q drifted: stored len=%d vol=%d, scanned len=%d vol=%d",
		key, stored.Length, stored.Volume, length, vol))
}

// Check recounts the fields of key and fails with Corruption if the meta record disagrees.
// Nothing is written.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) Check(key []byte) (err error) {
	defer e.metrics.Observe("check", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return err
	}
	unlock := e.lock(key)
	defer unlock()

	stored, length, vol, err := e.inspect(key)
	if err != nil {
		return err
	}
	if stored.Length != length || stored.Volume != vol {
		return mismatch(key, stored, length, vol)
	}
	return nil
}

// CheckAndRepair recounts the fields of key and rewrites the meta record if it disagrees.
// It reports whether a repair was necessary. Corruption is only returned if the repair
// could not be written.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) CheckAndRepair(key []byte) (repaired bool, err error) {
	defer e.metrics.Observe("repair", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return false, err
	}
	unlock := e.lock(key)
	defer unlock()

	// the snapshot is released before the repair is written
	stored, length, vol, err := e.inspect(key)
	if err != nil {
		return false, err
	}
	if stored.Length == length && stored.Volume == vol {
		return false, nil
	}

	log.Warningf("%v, repairing", mismatch(key, stored, length, vol))
	fixed := stored
	fixed.IncrementMeta(length-stored.Length, vol-stored.Volume)

	batch := db.NewBatch()
	batch.PutKeepTTL(EncodeMeta(key), EncodeMetaRecord(fixed))
	if err := e.write(batch); err != nil {
		return false, store.WrapError(store.RetCCorruption, fmt.Sprintf("repair of %q failed", key), err)
	}
	return true, nil
}
