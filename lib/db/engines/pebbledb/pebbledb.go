package pebbledb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/db/util"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("pebble")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultGCInterval = 10 * time.Second // Default interval between GC sweeps
	loadBatchSize     = 1024             // Entries per batch when loading a dump
	infoSampleSize    = 100              // Entries sampled by GetInfo
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// pebbleImpl stores enveloped entries (see util.EncodeEntry) in a pebble LSM tree.
// Expired entries are hidden on read and removed by a periodic sweep.
type pebbleImpl struct {
	pdb     *pebble.DB
	dir     string
	inMem   bool
	clock   func() time.Time
	writeOp *pebble.WriteOptions

	// writeMu serializes all writes, batches with keep/inherit semantics read
	// the current expiration before they are committed
	writeMu sync.Mutex
	closed  atomic.Bool

	gcInterval time.Duration
	gcStop     chan struct{}
	gcDone     chan struct{}
}

// Options configures the pebble engine
type Options struct {
	Dir        string           // Data directory ("" = in-memory file system)
	Sync       bool             // Sync the WAL on every commit
	GCInterval time.Duration    // Time between GC sweeps (0 = default, < 0 = no background GC)
	Clock      func() time.Time // Source of the current time (nil = time.Now)
}

// pebbleLogger routes pebble's log output through the dragonboat logger
type pebbleLogger struct {
	l logger.ILogger
}

func (p pebbleLogger) Infof(format string, args ...interface{}) {
	p.l.Debugf(format, args...)
}

func (p pebbleLogger) Fatalf(format string, args ...interface{}) {
	p.l.Panicf(format, args...)
}

// NewPebbleDB opens (or creates) a pebble database
func NewPebbleDB(opts *Options) (db.KVDB, error) {
	if opts == nil {
		opts = &Options{}
	}

	pOpts := &pebble.Options{
		Logger: pebbleLogger{l: log},
	}
	inMem := opts.Dir == ""
	if inMem {
		pOpts.FS = vfs.NewMem()
	}

	pdb, err := pebble.Open(opts.Dir, pOpts)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %q: %w", opts.Dir, err)
	}

	impl := &pebbleImpl{
		pdb:        pdb,
		dir:        opts.Dir,
		inMem:      inMem,
		clock:      opts.Clock,
		writeOp:    pebble.NoSync,
		gcInterval: opts.GCInterval,
		gcStop:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}
	if opts.Sync {
		impl.writeOp = pebble.Sync
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

	log.Infof("opened pebble database (dir=%q, in-memory=%v)", opts.Dir, inMem)
	return impl, nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// readFrom returns the decoded live entry for key from r
func (p *pebbleImpl) readFrom(r pebble.Reader, key []byte) (value []byte, expireAt int64, err error) {
	raw, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, 0, db.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	defer closer.Close()

	expireAt, v, err := util.DecodeEntry(key, raw)
	if err != nil {
		return nil, 0, err
	}
	if util.IsExpired(expireAt, p.clock()) {
		return nil, 0, db.ErrNotFound
	}
	// raw is only valid until closer is closed
	return util.CopyBytes(v), expireAt, nil
}

// Get retrieves a copy of the value for a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) Get(key []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, db.ErrClosed
	}
	v, _, err := p.readFrom(p.pdb, key)
	return v, err
}

// TTL returns the remaining lifetime of key in seconds.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) TTL(key []byte) (int64, error) {
	if p.closed.Load() {
		return 0, db.ErrClosed
	}
	_, expireAt, err := p.readFrom(p.pdb, key)
	if err != nil {
		return 0, err
	}
	if expireAt == 0 {
		return db.NoTTL, nil
	}
	return util.RemainingSeconds(expireAt, p.clock()), nil
}

// NewIterator returns an iterator over the live database.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) NewIterator(opts *db.IterOptions) (db.Iterator, error) {
	if p.closed.Load() {
		return nil, db.ErrClosed
	}
	o := iterOptions(opts)
	return &iterator{it: p.pdb.NewIter(o), lower: o.LowerBound, clock: p.clock}, nil
}

// iterOptions maps a prefix onto pebble's native iterator bounds
func iterOptions(opts *db.IterOptions) *pebble.IterOptions {
	if opts == nil || len(opts.Prefix) == 0 {
		return &pebble.IterOptions{}
	}
	return &pebble.IterOptions{
		LowerBound: util.CopyBytes(opts.Prefix),
		UpperBound: util.PrefixUpperBound(opts.Prefix),
	}
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or updates an entry without expiration.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) Put(key, value []byte) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.pdb.Set(key, util.EncodeEntry(0, value), p.writeOp)
}

// Delete removes an entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) Delete(key []byte) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.pdb.Delete(key, p.writeOp)
}

// Write resolves the expiration semantics of batch and commits it as one pebble batch.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) Write(batch *db.Batch) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	ops, err := util.ResolveBatch(batch, p.clock(), func(key []byte) (int64, bool, error) {
		_, expireAt, err := p.readFrom(p.pdb, key)
		if errors.Is(err, db.ErrNotFound) {
			return 0, false, nil
		}
		return expireAt, err == nil, err
	})
	if err != nil {
		return err
	}

	pb := p.pdb.NewBatch()
	defer pb.Close()
	for _, op := range ops {
		if op.Delete {
			err = pb.Delete(op.Key, nil)
		} else {
			err = pb.Set(op.Key, util.EncodeEntry(op.ExpireAt, op.Value), nil)
		}
		if err != nil {
			return err
		}
	}
	return pb.Commit(p.writeOp)
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// NewSnapshot returns a pebble snapshot.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) NewSnapshot() (db.Snapshot, error) {
	if p.closed.Load() {
		return nil, db.ErrClosed
	}
	return &snapshot{owner: p, snap: p.pdb.NewSnapshot()}, nil
}

type snapshot struct {
	owner    *pebbleImpl
	snap     *pebble.Snapshot
	released atomic.Bool
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.released.Load() {
		return nil, db.ErrSnapshotReleased
	}
	v, _, err := s.owner.readFrom(s.snap, key)
	return v, err
}

func (s *snapshot) NewIterator(opts *db.IterOptions) (db.Iterator, error) {
	if s.released.Load() {
		return nil, db.ErrSnapshotReleased
	}
	o := iterOptions(opts)
	return &iterator{it: s.snap.NewIter(o), lower: o.LowerBound, clock: s.owner.clock}, nil
}

func (s *snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		if err := s.snap.Close(); err != nil {
			log.Warningf("failed to release snapshot: %v", err)
		}
	}
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// iterator wraps a pebble iterator: it skips expired entries and strips the envelope
type iterator struct {
	it    *pebble.Iterator
	lower []byte
	clock func() time.Time

	value []byte
	err   error
}

// settle moves forward until the iterator rests on a live entry
func (i *iterator) settle() {
	now := i.clock()
	for ; i.it.Valid(); i.it.Next() {
		expireAt, v, err := util.DecodeEntry(i.it.Key(), i.it.Value())
		if err != nil {
			i.err = err
			return
		}
		if !util.IsExpired(expireAt, now) {
			i.value = v
			return
		}
	}
}

func (i *iterator) Seek(key []byte) {
	if i.err != nil {
		return
	}
	if i.lower != nil && bytes.Compare(key, i.lower) < 0 {
		key = i.lower
	}
	i.it.SeekGE(key)
	i.settle()
}

func (i *iterator) Valid() bool {
	return i.err == nil && i.it.Valid()
}

func (i *iterator) Next() {
	if !i.Valid() {
		return
	}
	i.it.Next()
	i.settle()
}

func (i *iterator) Key() []byte {
	return i.it.Key()
}

func (i *iterator) Value() []byte {
	return i.value
}

func (i *iterator) Err() error {
	if i.err != nil {
		return i.err
	}
	return i.it.Error()
}

func (i *iterator) Close() error {
	return i.it.Close()
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// GarbageCollect deletes all expired entries in one batch.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) GarbageCollect() (int, error) {
	if p.closed.Load() {
		return 0, db.ErrClosed
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	now := p.clock()
	pb := p.pdb.NewBatch()
	defer pb.Close()

	removed := 0
	it := p.pdb.NewIter(&pebble.IterOptions{})
	for it.First(); it.Valid(); it.Next() {
		expireAt, _, err := util.DecodeEntry(it.Key(), it.Value())
		if err != nil {
			_ = it.Close()
			return 0, err
		}
		if util.IsExpired(expireAt, now) {
			// the batch copies the key
			if err := pb.Delete(it.Key(), nil); err != nil {
				_ = it.Close()
				return 0, err
			}
			removed++
		}
	}
	if err := it.Close(); err != nil {
		return 0, err
	}

	if removed == 0 {
		return 0, nil
	}
	if err := pb.Commit(p.writeOp); err != nil {
		return 0, err
	}
	return removed, nil
}

func (p *pebbleImpl) garbageCollector() {
	defer close(p.gcDone)

	ticker := time.NewTicker(p.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.gcStop:
			return
		case <-ticker.C:
			removed, err := p.GarbageCollect()
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

// Save writes all live entries of a snapshot to w.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *pebbleImpl) Save(w io.Writer) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	snap := p.pdb.NewSnapshot()
	defer snap.Close()

	dw, err := util.NewDumpWriter(w)
	if err != nil {
		return err
	}

	now := p.clock()
	it := snap.NewIter(&pebble.IterOptions{})
	for it.First(); it.Valid(); it.Next() {
		expireAt, v, err := util.DecodeEntry(it.Key(), it.Value())
		if err != nil {
			_ = it.Close()
			return err
		}
		if util.IsExpired(expireAt, now) {
			continue
		}
		if err := dw.WriteEntry(it.Key(), v, expireAt); err != nil {
			_ = it.Close()
			return err
		}
	}
	if err := it.Close(); err != nil {
		return err
	}
	return dw.Close()
}

// Load adds all entries of a dump. Entries are committed in batches of loadBatchSize.
//
// Thread-safety: This method is thread-safe, but the loaded entries become visible batch by batch.
func (p *pebbleImpl) Load(r io.Reader) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	dr, err := util.NewDumpReader(r)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	pb := p.pdb.NewBatch()
	defer func() { _ = pb.Close() }()

	pending := 0
	for {
		key, value, expireAt, ok, err := dr.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if util.IsExpired(expireAt, p.clock()) {
			continue
		}
		if err := pb.Set(key, util.EncodeEntry(expireAt, value), nil); err != nil {
			return err
		}
		if pending++; pending == loadBatchSize {
			if err := pb.Commit(p.writeOp); err != nil {
				return err
			}
			_ = pb.Close()
			pb = p.pdb.NewBatch()
			pending = 0
		}
	}
	if pending == 0 {
		return nil
	}
	return pb.Commit(p.writeOp)
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
func (p *pebbleImpl) GetInfo() db.DatabaseInfo {
	histogram := util.NewSizeHistogram()
	if it, err := p.NewIterator(nil); err == nil {
		_, _ = histogram.SampleIterator(it, infoSampleSize)
		_ = it.Close()
	}

	size := 0
	meta := &struct {
		Dir          string `json:"dir"`
		InMemory     bool   `json:"in_memory"`
		MedianSample int    `json:"median_sample_size"`
		DiskUsage    uint64 `json:"disk_usage"`
		Compactions  int64  `json:"compactions"`
	}{
		Dir:          p.dir,
		InMemory:     p.inMem,
		MedianSample: histogram.MedianEstimate(),
	}
	if !p.closed.Load() {
		m := p.pdb.Metrics()
		meta.DiskUsage = m.DiskSpaceUsage()
		meta.Compactions = m.Compact.Count
		size = int(meta.DiskUsage)
	}

	return db.DatabaseInfo{
		SizeBytes: size,
		DbType:    db.ImplPebble,
		SupportedFeatures: []db.Feature{
			db.FeatureGet, db.FeaturePut, db.FeatureDelete, db.FeatureBatch,
			db.FeatureTTL, db.FeatureSnapshot, db.FeatureIterator,
			db.FeatureSave, db.FeatureLoad, db.FeatureGarbageCollect,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (p *pebbleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector and closes pebble.
// All iterators and snapshots must be closed before.
func (p *pebbleImpl) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.gcInterval > 0 {
		close(p.gcStop)
	}
	<-p.gcDone

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.pdb.Close()
}
