package maple

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/hkv/lib/db/util"
	"github.com/google/btree"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("maple")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultGCInterval = 100 * time.Millisecond // Default interval between GC runs
	iteratorChunkSize = 128                    // Entries an iterator fetches from its tree at once
	infoSampleSize    = 100                    // Entries sampled by GetInfo
	entryOverhead     = 8                      // bytes per entry for the expiration
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements an in-memory ordered database on top of a copy-on-write b-tree
type mapleImpl struct {
	mu     sync.RWMutex                  // guards tree and expiry
	tree   *btree.BTreeG[internal.Entry] // all entries sorted by key
	expiry *util.MapHeap[string]         // deadlines of all entries with a ttl
	clock  func() time.Time

	closed atomic.Bool

	// garbage collection
	gcInterval time.Duration
	gcStop     chan struct{}
	gcDone     chan struct{}
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	GCInterval time.Duration    // Time between GC runs (0 = use default, < 0 = no background GC)
	Clock      func() time.Time // Source of the current time (nil = time.Now)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		GCInterval: defaultGCInterval,
		Clock:      time.Now,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}

	newDB := &mapleImpl{
		tree:       internal.NewTree(),
		expiry:     util.NewMapHeap[string](),
		clock:      opts.Clock,
		gcInterval: opts.GCInterval,
		gcStop:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}
	if newDB.clock == nil {
		newDB.clock = time.Now
	}
	if newDB.gcInterval == 0 {
		newDB.gcInterval = defaultGCInterval
	}

	// start garbage collection
	if newDB.gcInterval > 0 {
		go newDB.garbageCollector()
	} else {
		close(newDB.gcDone)
	}

	return newDB
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// set stores an entry and registers its deadline.
//
// Thread-safety: The caller must hold the write lock.
func (maple *mapleImpl) set(key, value []byte, expireAt int64) {
	entry := internal.Entry{
		Key:      util.CopyBytes(key),
		Value:    util.CopyBytes(value),
		ExpireAt: expireAt,
	}
	if entry.Value == nil {
		entry.Value = []byte{}
	}
	maple.tree.ReplaceOrInsert(entry)

	if expireAt != 0 {
		maple.expiry.AddItem(string(key), expireAt)
	} else {
		maple.expiry.RemoveByKey(string(key))
	}
}

// remove deletes an entry and its deadline.
//
// Thread-safety: The caller must hold the write lock.
func (maple *mapleImpl) remove(key []byte) {
	maple.tree.Delete(internal.Probe(key))
	maple.expiry.RemoveByKey(string(key))
}

// lookup returns the live entry for key.
//
// Thread-safety: The caller must hold the read or write lock.
func (maple *mapleImpl) lookup(tree *btree.BTreeG[internal.Entry], key []byte, now time.Time) (internal.Entry, bool) {
	entry, ok := tree.Get(internal.Probe(key))
	if !ok || entry.Expired(now) {
		return internal.Entry{}, false
	}
	return entry, true
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put inserts or updates an entry. A previous expiration of the key is cleared.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Put(key, value []byte) error {
	if maple.closed.Load() {
		return db.ErrClosed
	}
	maple.mu.Lock()
	defer maple.mu.Unlock()

	maple.set(key, value, 0)
	return nil
}

// Delete removes the entry with the specified key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key []byte) error {
	if maple.closed.Load() {
		return db.ErrClosed
	}
	maple.mu.Lock()
	defer maple.mu.Unlock()

	maple.remove(key)
	return nil
}

// Write applies a batch atomically. Readers either see none or all of its operations.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Write(batch *db.Batch) error {
	if maple.closed.Load() {
		return db.ErrClosed
	}
	maple.mu.Lock()
	defer maple.mu.Unlock()

	now := maple.clock()
	ops, err := util.ResolveBatch(batch, now, func(key []byte) (int64, bool, error) {
		entry, ok := maple.lookup(maple.tree, key, now)
		return entry.ExpireAt, ok, nil
	})
	if err != nil {
		return err
	}

	for _, op := range ops {
		if op.Delete {
			maple.remove(op.Key)
		} else {
			maple.set(op.Key, op.Value, op.ExpireAt)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a copy of the value for a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key []byte) ([]byte, error) {
	if maple.closed.Load() {
		return nil, db.ErrClosed
	}
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	entry, ok := maple.lookup(maple.tree, key, maple.clock())
	if !ok {
		return nil, db.ErrNotFound
	}
	return util.CopyBytes(entry.Value), nil
}

// TTL returns the remaining lifetime of key in seconds.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) TTL(key []byte) (int64, error) {
	if maple.closed.Load() {
		return 0, db.ErrClosed
	}
	maple.mu.RLock()
	defer maple.mu.RUnlock()

	now := maple.clock()
	entry, ok := maple.lookup(maple.tree, key, now)
	if !ok {
		return 0, db.ErrNotFound
	}
	if entry.ExpireAt == 0 {
		return db.NoTTL, nil
	}
	return util.RemainingSeconds(entry.ExpireAt, now), nil
}

// NewIterator returns an iterator over a copy-on-write clone of the current tree,
// so the iterator is isolated from writes that happen after its creation.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) NewIterator(opts *db.IterOptions) (db.Iterator, error) {
	snap, err := maple.NewSnapshot()
	if err != nil {
		return nil, err
	}
	s := snap.(*snapshot)
	return util.WithPrefix(&iterator{tree: s.tree, clock: maple.clock, release: s.Release}, opts), nil
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// NewSnapshot clones the tree. Cloning is O(1), nodes are copied lazily on the next write.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) NewSnapshot() (db.Snapshot, error) {
	if maple.closed.Load() {
		return nil, db.ErrClosed
	}
	// Clone must not run concurrently with other operations on the tree
	maple.mu.Lock()
	clone := maple.tree.Clone()
	maple.mu.Unlock()

	return &snapshot{tree: clone, clock: maple.clock}, nil
}

type snapshot struct {
	tree     *btree.BTreeG[internal.Entry]
	clock    func() time.Time
	released atomic.Bool
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.released.Load() {
		return nil, db.ErrSnapshotReleased
	}
	entry, ok := s.tree.Get(internal.Probe(key))
	if !ok || entry.Expired(s.clock()) {
		return nil, db.ErrNotFound
	}
	return util.CopyBytes(entry.Value), nil
}

func (s *snapshot) NewIterator(opts *db.IterOptions) (db.Iterator, error) {
	if s.released.Load() {
		return nil, db.ErrSnapshotReleased
	}
	return util.WithPrefix(&iterator{tree: s.tree, clock: s.clock}, opts), nil
}

func (s *snapshot) Release() {
	s.released.Store(true)
}

// iterator walks a tree that is never modified (a clone) in chunks
type iterator struct {
	tree    *btree.BTreeG[internal.Entry]
	clock   func() time.Time
	release func()

	chunk []internal.Entry
	pos   int
	done  bool // no entries after the current chunk
}

func (it *iterator) fill(from []byte, exclusive bool) {
	it.chunk = internal.Chunk(it.tree, from, exclusive, iteratorChunkSize, it.clock())
	it.pos = 0
	it.done = len(it.chunk) < iteratorChunkSize
}

func (it *iterator) Seek(key []byte) {
	it.fill(key, false)
}

func (it *iterator) Valid() bool {
	return it.chunk != nil && it.pos < len(it.chunk)
}

func (it *iterator) Next() {
	if !it.Valid() {
		return
	}
	it.pos++
	if it.pos == len(it.chunk) && !it.done {
		it.fill(it.chunk[len(it.chunk)-1].Key, true)
	}
}

func (it *iterator) Key() []byte {
	return it.chunk[it.pos].Key
}

func (it *iterator) Value() []byte {
	return it.chunk[it.pos].Value
}

func (it *iterator) Err() error {
	return nil
}

func (it *iterator) Close() error {
	it.chunk = nil
	if it.release != nil {
		it.release()
		it.release = nil
	}
	return nil
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// GarbageCollect removes all expired entries from the tree.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) GarbageCollect() (int, error) {
	if maple.closed.Load() {
		return 0, db.ErrClosed
	}
	maple.mu.Lock()
	defer maple.mu.Unlock()

	now := maple.clock().UnixNano()
	removed := 0
	for {
		item, exists := maple.expiry.Peek()
		if !exists || item.Priority > now {
			break
		}
		maple.expiry.PopMin()

		// the heap only holds the latest deadline of every key, so it is safe to delete
		maple.tree.Delete(internal.Probe([]byte(item.Key)))
		removed++
	}
	return removed, nil
}

// garbageCollector periodically runs GarbageCollect until Close is called
func (maple *mapleImpl) garbageCollector() {
	defer close(maple.gcDone)

	ticker := time.NewTicker(maple.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-maple.gcStop:
			return
		case <-ticker.C:
			removed, err := maple.GarbageCollect()
			if err != nil {
				return
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

// Save persists all live entries to the writer.
// Concurrent writes are allowed during Save, the dump reflects the state at the start of Save.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Save(w io.Writer) error {
	snap, err := maple.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	tree := snap.(*snapshot).tree

	dw, err := util.NewDumpWriter(w)
	if err != nil {
		return err
	}

	now := maple.clock()
	tree.Ascend(func(e internal.Entry) bool {
		if e.Expired(now) {
			return true
		}
		err = dw.WriteEntry(e.Key, e.Value, e.ExpireAt)
		return err == nil
	})
	if err != nil {
		return err
	}
	return dw.Close()
}

// Load adds all entries of a dump to the database. Entries that are expired by now are skipped.
//
// Thread-safety: This method is thread-safe, but the loaded entries become visible one by one.
func (maple *mapleImpl) Load(r io.Reader) error {
	if maple.closed.Load() {
		return db.ErrClosed
	}
	dr, err := util.NewDumpReader(r)
	if err != nil {
		return err
	}

	for {
		key, value, expireAt, ok, err := dr.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if util.IsExpired(expireAt, maple.clock()) {
			continue
		}

		maple.mu.Lock()
		maple.set(key, value, expireAt)
		maple.mu.Unlock()
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
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
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	maple.mu.RLock()
	count := maple.tree.Len()
	pendingExpiry := maple.expiry.Len()
	maple.mu.RUnlock()

	histogram := util.NewSizeHistogram()
	if it, err := maple.NewIterator(nil); err == nil {
		_, _ = histogram.SampleIterator(it, infoSampleSize)
		_ = it.Close()
	}

	meta := &struct {
		Entries       int           `json:"entries"`
		PendingExpiry int           `json:"pending_expiry"`
		GCInterval    time.Duration `json:"gc_interval"`
		Info          string        `json:"info"`
	}{
		Entries:       count,
		PendingExpiry: pendingExpiry,
		GCInterval:    maple.gcInterval,
		Info:          "SizeBytes is an estimate based on a sample of the entries.",
	}

	return db.DatabaseInfo{
		SizeBytes: histogram.EstimateTotal(count, entryOverhead),
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureGet, db.FeaturePut, db.FeatureDelete, db.FeatureBatch,
			db.FeatureTTL, db.FeatureSnapshot, db.FeatureIterator,
			db.FeatureSave, db.FeatureLoad, db.FeatureGarbageCollect,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector. All later operations return db.ErrClosed.
func (maple *mapleImpl) Close() error {
	if !maple.closed.CompareAndSwap(false, true) {
		return nil
	}
	if maple.gcInterval > 0 {
		close(maple.gcStop)
	}
	<-maple.gcDone
	return nil
}
