package lstore

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/lockmgr"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/ValentinKolb/hkv/lib/store/hstore"
	"github.com/ValentinKolb/hkv/lib/store/kvstore"
	"github.com/ValentinKolb/hkv/lib/store/volume"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("lstore")

// Options configures a local store
type Options struct {
	MaxKeyLength int                // Exclusive upper bound for key lengths (0 = store.DefaultMaxKeyLength)
	Clock        func() time.Time   // Must be the clock of the substrate (nil = time.Now)
	Registry     gometrics.Registry // Registry for the lock table metrics (nil = private)
}

// Store opens all collection engines on one substrate and shares a single
// record lock table between them.
type Store struct {
	db     db.KVDB
	locks  lockmgr.ILockManager
	hash   *hstore.Engine
	kv     *kvstore.Engine
	closed atomic.Bool

	mu   sync.RWMutex
	cols volume.Collections
}

// NewLocalStore opens the substrate created by factory and builds the engines on it.
// The store owns the substrate and closes it on Close.
func NewLocalStore(factory store.DBFactory, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	database, err := factory()
	if err != nil {
		return nil, store.WrapError(store.RetCIOError, "open substrate", err)
	}

	locks := lockmgr.NewLockManager(opts.Registry)
	hash, err := hstore.New(database, &hstore.Options{MaxKeyLength: opts.MaxKeyLength, Locks: locks, Clock: opts.Clock})
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	kv, err := kvstore.New(database, &kvstore.Options{MaxKeyLength: opts.MaxKeyLength, Locks: locks})
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	s := &Store{
		db:    database,
		locks: locks,
		hash:  hash,
		kv:    kv,
		cols: volume.Collections{
			store.TypeHash: hash,
			store.TypeKV:   kv,
		},
	}
	log.Infof("opened store on %s", database.GetInfo().DbType)
	return s, nil
}

// Hash returns the hash collection engine
func (s *Store) Hash() *hstore.Engine { return s.hash }

// KV returns the plain key-value engine
func (s *Store) KV() *kvstore.Engine { return s.kv }

// DB returns the underlying substrate
func (s *Store) DB() db.KVDB { return s.db }

// Locks returns the record lock table shared by all engines
func (s *Store) Locks() lockmgr.ILockManager { return s.locks }

// RegisterCollection adds the engine of a collection type that is implemented outside
// of this module (lists, sets) to range operations. Hash and kv are always registered.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *Store) RegisterCollection(typ store.DataType, col volume.Collection) error {
	switch typ {
	case store.TypeList, store.TypeSet:
	default:
		return store.NewError(store.RetCInvalidArgument, fmt.Sprintf("cannot register a collection for %s", typ))
	}
	if col == nil {
		return store.NewError(store.RetCInvalidArgument, "collection must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols[typ] = col
	return nil
}

// collections returns a copy of the registered collections
func (s *Store) collections() volume.Collections {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols := make(volume.Collections, len(s.cols))
	for typ, col := range s.cols {
		cols[typ] = col
	}
	return cols
}

// Volume returns a merged iterator over all entities with start <= key <= end
func (s *Store) Volume(start, end []byte, limit int, useSnapshot bool) (*volume.Iterator, error) {
	if s.closed.Load() {
		return nil, store.FromDB("volume", db.ErrClosed)
	}
	return volume.NewIterator(s.collections(), start, end, limit, useSnapshot)
}

// RangeDelete removes all entities of all types with start <= key <= end, see volume.RangeDelete
func (s *Store) RangeDelete(start, end []byte, limit int) (int64, error) {
	if s.closed.Load() {
		return 0, store.FromDB("range delete", db.ErrClosed)
	}
	return volume.RangeDelete(s.collections(), start, end, limit)
}

// GetDBInfo returns metadata about the substrate
func (s *Store) GetDBInfo() db.DatabaseInfo {
	return s.db.GetInfo()
}

// WriteMetrics writes the metrics of all engines in the Prometheus text format
func (s *Store) WriteMetrics(w io.Writer) {
	s.hash.Metrics().WritePrometheus(w)
	s.kv.Metrics().WritePrometheus(w)
	volume.Metrics().WritePrometheus(w)

	stats := s.locks.Stats()
	fmt.Fprintf(w, "hkv_lock_entries %d\n", stats.Entries)
	fmt.Fprintf(w, "hkv_lock_acquired_total %d\n", stats.Acquired)
	fmt.Fprintf(w, "hkv_lock_contended_total %d\n", stats.Contended)
	fmt.Fprintf(w, "hkv_lock_wait_mean_seconds %g\n", stats.WaitMeanNs/float64(time.Second))
}

// Close closes the substrate. It is safe to call Close more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
