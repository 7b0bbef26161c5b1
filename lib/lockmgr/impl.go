package lockmgr

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

// recordLock is one entry of the lock table
type recordLock struct {
	mu   sync.Mutex
	refs int // holders + waiters, only modified inside Compute
}

type lockMgrImpl struct {
	locks *xsync.MapOf[string, *recordLock]

	waitTimer gometrics.Timer
	acquired  gometrics.Counter
	contended gometrics.Counter
	entries   gometrics.Gauge
	maxSeen   atomic.Int64
}

// NewLockManager creates an empty lock table. Metrics are registered in registry,
// a private registry is used if registry is nil.
func NewLockManager(registry gometrics.Registry) ILockManager {
	if registry == nil {
		registry = gometrics.NewRegistry()
	}
	return &lockMgrImpl{
		locks:     xsync.NewMapOf[string, *recordLock](),
		waitTimer: gometrics.GetOrRegisterTimer("lockmgr.wait", registry),
		acquired:  gometrics.GetOrRegisterCounter("lockmgr.acquired", registry),
		contended: gometrics.GetOrRegisterCounter("lockmgr.contended", registry),
		entries:   gometrics.GetOrRegisterGauge("lockmgr.entries", registry),
	}
}

// acquireRef returns the entry for key and registers the caller in it
func (lm *lockMgrImpl) acquireRef(key string) *recordLock {
	l, _ := lm.locks.Compute(key, func(old *recordLock, loaded bool) (*recordLock, bool) {
		if !loaded {
			old = &recordLock{}
		}
		old.refs++
		return old, false
	})

	size := int64(lm.locks.Size())
	lm.entries.Update(size)
	for {
		prev := lm.maxSeen.Load()
		if size <= prev || lm.maxSeen.CompareAndSwap(prev, size) {
			break
		}
	}
	return l
}

// releaseRef unregisters the caller and removes the entry once nobody references it
func (lm *lockMgrImpl) releaseRef(key string) {
	lm.locks.Compute(key, func(old *recordLock, loaded bool) (*recordLock, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		return old, old.refs == 0
	})
	lm.entries.Update(int64(lm.locks.Size()))
}

func (lm *lockMgrImpl) unlocker(key string, l *recordLock) func() {
	var done atomic.Bool
	return func() {
		if !done.CompareAndSwap(false, true) {
			return
		}
		l.mu.Unlock()
		lm.releaseRef(key)
	}
}

// Lock blocks until the lock for key is held.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (lm *lockMgrImpl) Lock(key []byte) func() {
	k := string(key)
	l := lm.acquireRef(k)

	if !l.mu.TryLock() {
		lm.contended.Inc(1)
		start := time.Now()
		l.mu.Lock()
		lm.waitTimer.UpdateSince(start)
	} else {
		lm.waitTimer.Update(0)
	}
	lm.acquired.Inc(1)
	return lm.unlocker(k, l)
}

// TryLock acquires the lock for key if it is free.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (lm *lockMgrImpl) TryLock(key []byte) (func(), bool) {
	k := string(key)
	l := lm.acquireRef(k)

	if !l.mu.TryLock() {
		lm.contended.Inc(1)
		lm.releaseRef(k)
		return nil, false
	}
	lm.acquired.Inc(1)
	return lm.unlocker(k, l), true
}

// Len returns the number of live entries.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (lm *lockMgrImpl) Len() int {
	return lm.locks.Size()
}

// Stats returns a snapshot of the lock table metrics.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (lm *lockMgrImpl) Stats() Stats {
	wait := lm.waitTimer.Snapshot()
	return Stats{
		Entries:    lm.locks.Size(),
		Acquired:   lm.acquired.Count(),
		Contended:  lm.contended.Count(),
		WaitMeanNs: wait.Mean(),
		WaitP99Ns:  wait.Percentile(0.99),
		MaxEntries: lm.maxSeen.Load(),
	}
}
