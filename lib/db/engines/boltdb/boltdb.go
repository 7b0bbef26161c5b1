package boltdb

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
	"go.etcd.io/bbolt"
)

var log = logger.GetLogger("bolt")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultGCInterval      = 10 * time.Second
	defaultInitialMmapSize = 256 << 20 // 256 MB
	loadBatchSize          = 1024
)

var bucketName = []byte("hkv")

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// boltImpl stores enveloped entries in a single bbolt bucket.
//
// Snapshots and iterators hold a read transaction. bbolt can not grow its
// memory map while a read transaction is open, a goroutine that writes while
// holding a snapshot therefore relies on InitialMmapSize being large enough.
type boltImpl struct {
	bdb    *bbolt.DB
	path   string
	clock  func() time.Time
	closed atomic.Bool

	gcInterval time.Duration
	gcStop     chan struct{}
	gcDone     chan struct{}
}

// Options configures the bolt engine
type Options struct {
	Path            string           // Database file (required)
	NoSync          bool             // Skip fsync after every commit
	InitialMmapSize int              // Initial size of the memory map (0 = 256 MB)
	GCInterval      time.Duration    // Time between GC sweeps (0 = default, < 0 = no background GC)
	Clock           func() time.Time // Source of the current time (nil = time.Now)
}

// NewBoltDB opens (or creates) a bolt database file
func NewBoltDB(opts *Options) (db.KVDB, error) {
	if opts == nil || opts.Path == "" {
		return nil, errors.New("bolt: a database path is required")
	}

	mmapSize := opts.InitialMmapSize
	if mmapSize == 0 {
		mmapSize = defaultInitialMmapSize
	}

	bdb, err := bbolt.Open(opts.Path, 0o600, &bbolt.Options{
		Timeout:         time.Second,
		NoSync:          opts.NoSync,
		InitialMmapSize: mmapSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt at %q: %w", opts.Path, err)
	}

	if err := bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	impl := &boltImpl{
		bdb:        bdb,
		path:       opts.Path,
		clock:      opts.Clock,
		gcInterval: opts.GCInterval,
		gcStop:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}
	if impl.clock == nil {
		impl.clock = time.Now
	}
	if impl.gcInterval == 0 {
		impl.gcInterval = defaultGCInterval
	}

	if impl.gcInterval > 0 {
		go impl.garbageCollector()
	} else {
		close(impl.gcDone)
	}

	log.Infof("opened bolt database %q", opts.Path)
	return impl, nil
}

// readFrom returns the live value and expiration of key in bucket b.
// The value aliases memory of the transaction.
func (bi *boltImpl) readFrom(b *bbolt.Bucket, key []byte) ([]byte, int64, error) {
	raw := b.Get(key)
	if raw == nil {
		return nil, 0, db.ErrNotFound
	}
	expireAt, v, err := util.DecodeEntry(key, raw)
	if err != nil {
		return nil, 0, err
	}
	if util.IsExpired(expireAt, bi.clock()) {
		return nil, 0, db.ErrNotFound
	}
	return v, expireAt, nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get retrieves a copy of the value for a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (bi *boltImpl) Get(key []byte) (value []byte, err error) {
	if bi.closed.Load() {
		return nil, db.ErrClosed
	}
	err = bi.bdb.View(func(tx *bbolt.Tx) error {
		v, _, err := bi.readFrom(tx.Bucket(bucketName), key)
		value = util.CopyBytes(v)
		return err
	})
	return value, err
}

// TTL returns the remaining lifetime of key in seconds.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (bi *boltImpl) TTL(key []byte) (seconds int64, err error) {
	if bi.closed.Load() {
		return 0, db.ErrClosed
	}
	err = bi.bdb.View(func(tx *bbolt.Tx) error {
		_, expireAt, err := bi.readFrom(tx.Bucket(bucketName), key)
		if err != nil {
			return err
		}
		if expireAt == 0 {
			seconds = db.NoTTL
		} else {
			seconds = util.RemainingSeconds(expireAt, bi.clock())
		}
		return nil
	})
	return seconds, err
}

// NewIterator opens a read transaction that lives until the iterator is closed.
//
// Thread-safety: This method is thread-safe. The iterator itself must only be used by one goroutine.
func (bi *boltImpl) NewIterator(opts *db.IterOptions) (db.Iterator, error) {
	if bi.closed.Load() {
		return nil, db.ErrClosed
	}
	tx, err := bi.bdb.Begin(false)
	if err != nil {
		return nil, err
	}
	return util.WithPrefix(&iterator{c: tx.Bucket(bucketName).Cursor(), clock: bi.clock, tx: tx}, opts), nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or updates an entry without expiration.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (bi *boltImpl) Put(key, value []byte) error {
	if bi.closed.Load() {
		return db.ErrClosed
	}
	return bi.bdb.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, util.EncodeEntry(0, value))
	})
}

// Delete removes an entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (bi *boltImpl) Delete(key []byte) error {
	if bi.closed.Load() {
		return db.ErrClosed
	}
	return bi.bdb.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key)
	})
}

// Write applies a batch in one read-write transaction.
// bbolt only allows one writer at a time, so the resolved expirations can not go stale.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (bi *boltImpl) Write(batch *db.Batch) error {
	if bi.closed.Load() {
		return db.ErrClosed
	}
	return bi.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)

		ops, err := util.ResolveBatch(batch, bi.clock(), func(key []byte) (int64, bool, error) {
			_, expireAt, err := bi.readFrom(b, key)
			if errors.Is(err, db.ErrNotFound) {
				return 0, false, nil
			}
			return expireAt, err == nil, err
		})
		if err != nil {
			return err
		}

		for _, op := range ops {
			if op.Delete {
				err = b.Delete(op.Key)
			} else {
				err = b.Put(op.Key, util.EncodeEntry(op.ExpireAt, op.Value))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// NewSnapshot begins a read transaction that is rolled back by Release.
//
// Thread-safety: This method is thread-safe. The snapshot itself must only be used by one goroutine.
func (bi *boltImpl) NewSnapshot() (db.Snapshot, error) {
	if bi.closed.Load() {
		return nil, db.ErrClosed
	}
	tx, err := bi.bdb.Begin(false)
	if err != nil {
		return nil, err
	}
	return &snapshot{owner: bi, tx: tx}, nil
}

type snapshot struct {
	owner    *boltImpl
	tx       *bbolt.Tx
	released bool
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.released {
		return nil, db.ErrSnapshotReleased
	}
	v, _, err := s.owner.readFrom(s.tx.Bucket(bucketName), key)
	return util.CopyBytes(v), err
}

func (s *snapshot) NewIterator(opts *db.IterOptions) (db.Iterator, error) {
	if s.released {
		return nil, db.ErrSnapshotReleased
	}
	// the transaction is owned by the snapshot
	return util.WithPrefix(&iterator{c: s.tx.Bucket(bucketName).Cursor(), clock: s.owner.clock}, opts), nil
}

func (s *snapshot) Release() {
	if s.released {
		return
	}
	s.released = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, bbolt.ErrTxClosed) {
		log.Warningf("failed to release snapshot: %v", err)
	}
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

type iterator struct {
	c     *bbolt.Cursor
	clock func() time.Time
	tx    *bbolt.Tx // owned read transaction (nil for snapshot iterators)

	key, value []byte
	err        error
}

// settle skips expired entries starting at k/v
func (i *iterator) settle(k, v []byte) {
	now := i.clock()
	for ; k != nil; k, v = i.c.Next() {
		expireAt, val, err := util.DecodeEntry(k, v)
		if err != nil {
			i.err = err
			break
		}
		if !util.IsExpired(expireAt, now) {
			i.key, i.value = k, val
			return
		}
	}
	i.key, i.value = nil, nil
}

func (i *iterator) Seek(key []byte) {
	if i.err != nil {
		return
	}
	k, v := i.c.Seek(key)
	i.settle(k, v)
}

func (i *iterator) Valid() bool {
	return i.err == nil && i.key != nil
}

func (i *iterator) Next() {
	if !i.Valid() {
		return
	}
	k, v := i.c.Next()
	i.settle(k, v)
}

func (i *iterator) Key() []byte {
	return i.key
}

func (i *iterator) Value() []byte {
	return i.value
}

func (i *iterator) Err() error {
	return i.err
}

func (i *iterator) Close() error {
	i.key, i.value = nil, nil
	if i.tx == nil {
		return nil
	}
	err := i.tx.Rollback()
	i.tx = nil
	if errors.Is(err, bbolt.ErrTxClosed) {
		return nil
	}
	return err
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// GarbageCollect deletes all expired entries in one transaction.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (bi *boltImpl) GarbageCollect() (removed int, err error) {
	if bi.closed.Load() {
		return 0, db.ErrClosed
	}
	err = bi.bdb.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		now := bi.clock()

		// collect first, deleting while iterating a bbolt cursor skips entries
		var expired [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			expireAt, _, err := util.DecodeEntry(k, v)
			if err != nil {
				return err
			}
			if util.IsExpired(expireAt, now) {
				expired = append(expired, util.CopyBytes(k))
			}
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (bi *boltImpl) garbageCollector() {
	defer close(bi.gcDone)

	ticker := time.NewTicker(bi.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bi.gcStop:
			return
		case <-ticker.C:
			removed, err := bi.GarbageCollect()
			if err != nil {
				if !errors.Is(err, db.ErrClosed) {
					log.Errorf("gc sweep failed: %v", err)
				}
				continue
			}
			if removed > 0 {
				log.Debugf("gc removed %d expired entries", removed)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes all live entries to w from a single read transaction.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (bi *boltImpl) Save(w io.Writer) error {
	if bi.closed.Load() {
		return db.ErrClosed
	}
	return bi.bdb.View(func(tx *bbolt.Tx) error {
		dw, err := util.NewDumpWriter(w)
		if err != nil {
			return err
		}

		now := bi.clock()
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			expireAt, val, err := util.DecodeEntry(k, v)
			if err != nil {
				return err
			}
			if util.IsExpired(expireAt, now) {
				continue
			}
			if err := dw.WriteEntry(k, val, expireAt); err != nil {
				return err
			}
		}
		return dw.Close()
	})
}

// Load adds all entries of a dump, committing every loadBatchSize entries.
//
// Thread-safety: This method is thread-safe, but the loaded entries become visible batch by batch.
func (bi *boltImpl) Load(r io.Reader) error {
	if bi.closed.Load() {
		return db.ErrClosed
	}
	dr, err := util.NewDumpReader(r)
	if err != nil {
		return err
	}

	type kv struct{ key, value []byte }
	pending := make([]kv, 0, loadBatchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := bi.bdb.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketName)
			for _, e := range pending {
				if err := b.Put(e.key, e.value); err != nil {
					return err
				}
			}
			return nil
		})
		pending = pending[:0]
		return err
	}

	for {
		key, value, expireAt, ok, err := dr.Next()
		if err != nil {
			return err
		}
		if !ok {
			return flush()
		}
		if util.IsExpired(expireAt, bi.clock()) {
			continue
		}
		pending = append(pending, kv{key: key, value: util.EncodeEntry(expireAt, value)})
		if len(pending) == loadBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

const supportedFeatures = db.FeatureGet |
	db.FeaturePut |
	db.FeatureDelete |
	db.FeatureBatch |
	db.FeatureTTL |
	db.FeatureSnapshot |
	db.FeatureIterator |
	db.FeatureSave |
	db.FeatureLoad |
	db.FeatureGarbageCollect

// GetInfo returns statistics about the database
func (bi *boltImpl) GetInfo() db.DatabaseInfo {
	meta := &struct {
		Path      string `json:"path"`
		Keys      int    `json:"keys"`
		LeafInuse int    `json:"leaf_inuse"`
		FreePages int    `json:"free_pages"`
	}{Path: bi.path}

	size := 0
	if !bi.closed.Load() {
		_ = bi.bdb.View(func(tx *bbolt.Tx) error {
			stats := tx.Bucket(bucketName).Stats()
			meta.Keys = stats.KeyN
			meta.LeafInuse = stats.LeafInuse
			size = int(tx.Size())
			return nil
		})
		meta.FreePages = bi.bdb.Stats().FreePageN
	}

	return db.DatabaseInfo{
		SizeBytes: size,
		DbType:    db.ImplBolt,
		SupportedFeatures: []db.Feature{
			db.FeatureGet, db.FeaturePut, db.FeatureDelete, db.FeatureBatch,
			db.FeatureTTL, db.FeatureSnapshot, db.FeatureIterator,
			db.FeatureSave, db.FeatureLoad, db.FeatureGarbageCollect,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (bi *boltImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector and closes the file.
// All iterators and snapshots must be closed before, bbolt waits for open transactions.
func (bi *boltImpl) Close() error {
	if !bi.closed.CompareAndSwap(false, true) {
		return nil
	}
	if bi.gcInterval > 0 {
		close(bi.gcStop)
	}
	<-bi.gcDone
	return bi.bdb.Close()
}
