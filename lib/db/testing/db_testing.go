package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
)

// DBFactory creates a new, empty instance of a KVDB implementation.
// The instance must read the current time from clock and should not run a
// background garbage collector, so tests can decide when entries are reaped.
type DBFactory func(tb testing.TB, clock func() time.Time) db.KVDB

// Epoch is the start time of the manual clock used by the test suite
var Epoch = time.Unix(1_700_000_000, 0)

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory)
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory)
		})

		t.Run("Batch", func(t *testing.T) {
			testBatch(t, factory)
		})

		t.Run("TTL", func(t *testing.T) {
			testTTL(t, factory)
		})

		t.Run("KeepAndInheritTTL", func(t *testing.T) {
			testKeepAndInheritTTL(t, factory)
		})

		t.Run("ExpireAt", func(t *testing.T) {
			testExpireAt(t, factory)
		})

		t.Run("Iterator", func(t *testing.T) {
			testIterator(t, factory)
		})

		t.Run("PrefixIterator", func(t *testing.T) {
			testPrefixIterator(t, factory)
		})

		t.Run("Snapshot", func(t *testing.T) {
			testSnapshot(t, factory)
		})

		t.Run("GarbageCollect", func(t *testing.T) {
			testGarbageCollect(t, factory)
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("ConcurrentBatches", func(t *testing.T) {
			testConcurrentBatches(t, factory)
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skipf("feature %s not supported", feature)
	}
}

// open creates a database with a manual clock and closes it after the test
func open(t testing.TB, factory DBFactory) (db.KVDB, *ManualClock) {
	clock := NewManualClock(Epoch)
	database := factory(t, clock.Now)
	t.Cleanup(func() { _ = database.Close() })
	return database, clock
}

func mustPut(t testing.TB, database db.KVDB, key, value string) {
	t.Helper()
	if err := database.Put([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Put(%s) failed: %v", key, err)
	}
}

func mustWrite(t testing.TB, database db.KVDB, batch *db.Batch) {
	t.Helper()
	if err := database.Write(batch); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func expectValue(t testing.TB, r db.Reader, key, expected string) {
	t.Helper()
	value, err := r.Get([]byte(key))
	if err != nil {
		t.Errorf("Expected key %s to exist, got error %v", key, err)
		return
	}
	if string(value) != expected {
		t.Errorf("Expected value %q for key %s, got %q", expected, key, value)
	}
}

func expectMissing(t testing.TB, r db.Reader, key string) {
	t.Helper()
	if _, err := r.Get([]byte(key)); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for key %s, got %v", key, err)
	}
}

func expectTTL(t testing.TB, database db.KVDB, key string, expected int64) {
	t.Helper()
	ttl, err := database.TTL([]byte(key))
	if err != nil {
		t.Errorf("TTL(%s) failed: %v", key, err)
		return
	}
	if ttl != expected {
		t.Errorf("Expected ttl %d for key %s, got %d", expected, key, ttl)
	}
}

// collect returns all keys from start (inclusive) in iteration order
func collect(t testing.TB, it db.Iterator, start []byte) []string {
	t.Helper()
	var keys []string
	for it.Seek(start); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Err(); err != nil {
		t.Errorf("Iterator failed: %v", err)
	}
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, factory DBFactory) {
	database, _ := open(t, factory)
	requireFeature(t, database, db.FeatureGet|db.FeaturePut)

	mustPut(t, database, "test-key", "test-value1")
	expectValue(t, database, "test-key", "test-value1")

	mustPut(t, database, "test-key", "test-value2")
	expectValue(t, database, "test-key", "test-value2")

	expectMissing(t, database, "nonexistent-key")

	retrieved, _ := database.Get([]byte("test-key"))
	retrieved[0] = 'X'
	expectValue(t, database, "test-key", "test-value2")

	// empty values and binary keys are valid
	mustPut(t, database, "empty", "")
	expectValue(t, database, "empty", "")
	binKey := string([]byte{0x00, 0xFF, 0x00})
	mustPut(t, database, binKey, "bin")
	expectValue(t, database, binKey, "bin")
}

func testDelete(t *testing.T, factory DBFactory) {
	database, _ := open(t, factory)
	requireFeature(t, database, db.FeatureGet|db.FeaturePut|db.FeatureDelete)

	mustPut(t, database, "delete-key", "value")
	if err := database.Delete([]byte("delete-key")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	expectMissing(t, database, "delete-key")

	if err := database.Delete([]byte("never-existed")); err != nil {
		t.Errorf("Expected Delete of a missing key to succeed, got %v", err)
	}
}

func testBatch(t *testing.T, factory DBFactory) {
	database, _ := open(t, factory)
	requireFeature(t, database, db.FeatureGet|db.FeatureBatch)

	mustPut(t, database, "to-delete", "old")

	b := db.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	b.Put([]byte("a"), []byte("3")) // later ops win
	b.Delete([]byte("to-delete"))
	b.Put([]byte("c"), []byte("4"))
	b.Delete([]byte("c"))
	if b.Len() != 6 {
		t.Errorf("Expected batch length 6, got %d", b.Len())
	}
	mustWrite(t, database, b)

	expectValue(t, database, "a", "3")
	expectValue(t, database, "b", "2")
	expectMissing(t, database, "to-delete")
	expectMissing(t, database, "c")

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Expected empty batch after Reset, got %d ops", b.Len())
	}
	mustWrite(t, database, b)
}

func testTTL(t *testing.T, factory DBFactory) {
	database, clock := open(t, factory)
	requireFeature(t, database, db.FeatureTTL|db.FeatureBatch)

	mustPut(t, database, "plain", "value")
	expectTTL(t, database, "plain", db.NoTTL)

	if _, err := database.TTL([]byte("missing")); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for TTL of a missing key, got %v", err)
	}

	b := db.NewBatch()
	b.PutWithTTL([]byte("expiring"), []byte("value"), 10)
	mustWrite(t, database, b)
	expectTTL(t, database, "expiring", 10)

	clock.Advance(4500 * time.Millisecond)
	expectTTL(t, database, "expiring", 6) // rounded up
	expectValue(t, database, "expiring", "value")

	clock.Advance(5500 * time.Millisecond)
	expectMissing(t, database, "expiring")
	if _, err := database.TTL([]byte("expiring")); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for TTL of an expired key, got %v", err)
	}

	// a plain put clears the ttl
	b.Reset()
	b.PutWithTTL([]byte("cleared"), []byte("v1"), 5)
	mustWrite(t, database, b)
	mustPut(t, database, "cleared", "v2")
	clock.Advance(10 * time.Second)
	expectValue(t, database, "cleared", "v2")
	expectTTL(t, database, "cleared", db.NoTTL)
}

func testKeepAndInheritTTL(t *testing.T, factory DBFactory) {
	database, clock := open(t, factory)
	requireFeature(t, database, db.FeatureTTL|db.FeatureBatch)

	b := db.NewBatch()
	b.PutWithTTL([]byte("meta"), []byte("m1"), 20)
	b.PutInheritTTL([]byte("field1"), []byte("f1"), []byte("meta"))
	mustWrite(t, database, b)
	expectTTL(t, database, "field1", 20)

	clock.Advance(5 * time.Second)

	b.Reset()
	b.PutKeepTTL([]byte("meta"), []byte("m2"))
	b.PutInheritTTL([]byte("field2"), []byte("f2"), []byte("meta"))
	b.PutKeepTTL([]byte("fresh"), []byte("x")) // nothing to keep
	b.PutInheritTTL([]byte("orphan"), []byte("o"), []byte("no-such-ref"))
	mustWrite(t, database, b)

	expectValue(t, database, "meta", "m2")
	expectTTL(t, database, "meta", 15)
	expectTTL(t, database, "field2", 15)
	expectTTL(t, database, "fresh", db.NoTTL)
	expectTTL(t, database, "orphan", db.NoTTL)

	clock.Advance(15 * time.Second)
	for _, key := range []string{"meta", "field1", "field2"} {
		expectMissing(t, database, key)
	}
	expectValue(t, database, "fresh", "x")
	expectValue(t, database, "orphan", "o")
}

func testExpireAt(t *testing.T, factory DBFactory) {
	database, clock := open(t, factory)
	requireFeature(t, database, db.FeatureTTL|db.FeatureBatch)

	mustPut(t, database, "past", "old")

	b := db.NewBatch()
	b.PutWithExpireAt([]byte("future"), []byte("v"), Epoch.Unix()+30)
	b.PutWithExpireAt([]byte("past"), []byte("v"), Epoch.Unix()-1)
	b.PutWithTTL([]byte("zero"), []byte("v"), 0)
	mustWrite(t, database, b)

	expectTTL(t, database, "future", 30)
	expectMissing(t, database, "past")
	expectMissing(t, database, "zero")

	clock.Advance(30 * time.Second)
	expectMissing(t, database, "future")
}

func testPrefixIterator(t *testing.T, factory DBFactory) {
	database, _ := open(t, factory)
	requireFeature(t, database, db.FeatureIterator|db.FeatureBatch|db.FeatureSnapshot)

	b := db.NewBatch()
	for _, key := range []string{"a", "h", "h\x00\x01x", "h\x00\x01y", "h\x00\x02z", "h\xff", "i", "\xff\xff"} {
		b.Put([]byte(key), []byte("v"))
	}
	mustWrite(t, database, b)

	check := func(r db.Reader, prefix, seek string, expected []string) {
		t.Helper()
		it, err := r.NewIterator(&db.IterOptions{Prefix: []byte(prefix)})
		if err != nil {
			t.Fatalf("NewIterator failed: %v", err)
		}
		defer it.Close()
		if keys := collect(t, it, []byte(seek)); !equalKeys(keys, expected) {
			t.Errorf("Expected keys %q for prefix %q from %q, got %q", expected, prefix, seek, keys)
		}
	}

	// seeks before the prefix land on its first key
	check(database, "h\x00\x01", "", []string{"h\x00\x01x", "h\x00\x01y"})
	check(database, "h\x00\x01", "h\x00\x01y", []string{"h\x00\x01y"})
	check(database, "h", "a", []string{"h", "h\x00\x01x", "h\x00\x01y", "h\x00\x02z", "h\xff"})
	check(database, "\xff", "", []string{"\xff\xff"})
	check(database, "z", "", nil)
	check(database, "", "h\xff", []string{"h\xff", "i", "\xff\xff"})

	snap, err := database.NewSnapshot()
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	defer snap.Release()
	check(snap, "h\x00", "", []string{"h\x00\x01x", "h\x00\x01y", "h\x00\x02z"})
}

func testIterator(t *testing.T, factory DBFactory) {
	database, clock := open(t, factory)
	requireFeature(t, database, db.FeatureIterator|db.FeatureBatch)

	b := db.NewBatch()
	for _, key := range []string{"d", "b", "a", "c", "e"} {
		b.Put([]byte(key), []byte("value-"+key))
	}
	b.PutWithTTL([]byte("bb"), []byte("expiring"), 5)
	b.Put([]byte("a\x00"), []byte("binary"))
	mustWrite(t, database, b)

	it, err := database.NewIterator(&db.IterOptions{})
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	keys := collect(t, it, nil)
	expected := []string{"a", "a\x00", "b", "bb", "c", "d", "e"}
	if !equalKeys(keys, expected) {
		t.Errorf("Expected keys %q, got %q", expected, keys)
	}

	// seek inside the keyspace and check values
	it.Seek([]byte("c"))
	if !it.Valid() || string(it.Key()) != "c" || string(it.Value()) != "value-c" {
		t.Errorf("Expected iterator at c=value-c after Seek")
	}
	it.Seek([]byte("ca"))
	if !it.Valid() || string(it.Key()) != "d" {
		t.Errorf("Expected iterator at d after Seek(ca)")
	}
	it.Seek([]byte("z"))
	if it.Valid() {
		t.Errorf("Expected invalid iterator after seeking past the end")
	}
	if err := it.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// expired entries are skipped
	clock.Advance(5 * time.Second)
	it, err = database.NewIterator(nil)
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	keys = collect(t, it, []byte("b"))
	expected = []string{"b", "c", "d", "e"}
	if !equalKeys(keys, expected) {
		t.Errorf("Expected keys %q after expiry, got %q", expected, keys)
	}
	_ = it.Close()

	// iterating over many entries
	b.Reset()
	for i := 0; i < 1000; i++ {
		b.Put([]byte(fmt.Sprintf("many-%04d", i)), []byte("x"))
	}
	mustWrite(t, database, b)
	it, _ = database.NewIterator(nil)
	defer it.Close()
	count := 0
	prev := ""
	for it.Seek([]byte("many-")); it.Valid() && bytes.HasPrefix(it.Key(), []byte("many-")); it.Next() {
		if string(it.Key()) <= prev {
			t.Fatalf("Keys not ascending: %s after %s", it.Key(), prev)
		}
		prev = string(it.Key())
		count++
	}
	if count != 1000 {
		t.Errorf("Expected 1000 keys, got %d", count)
	}
}

func testSnapshot(t *testing.T, factory DBFactory) {
	database, _ := open(t, factory)
	requireFeature(t, database, db.FeatureSnapshot|db.FeatureIterator)

	mustPut(t, database, "k1", "v1")
	mustPut(t, database, "k2", "v2")

	snap, err := database.NewSnapshot()
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}

	mustPut(t, database, "k1", "changed")
	mustPut(t, database, "k3", "v3")
	if err := database.Delete([]byte("k2")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	expectValue(t, snap, "k1", "v1")
	expectValue(t, snap, "k2", "v2")
	expectMissing(t, snap, "k3")

	it, err := snap.NewIterator(nil)
	if err != nil {
		t.Fatalf("Snapshot NewIterator failed: %v", err)
	}
	keys := collect(t, it, nil)
	_ = it.Close()
	if !equalKeys(keys, []string{"k1", "k2"}) {
		t.Errorf("Expected snapshot keys [k1 k2], got %q", keys)
	}

	expectValue(t, database, "k1", "changed")
	expectMissing(t, database, "k2")

	snap.Release()
	snap.Release() // idempotent
	if _, err := snap.Get([]byte("k1")); !errors.Is(err, db.ErrSnapshotReleased) {
		t.Errorf("Expected ErrSnapshotReleased after Release, got %v", err)
	}
}

func testGarbageCollect(t *testing.T, factory DBFactory) {
	database, clock := open(t, factory)
	requireFeature(t, database, db.FeatureGarbageCollect|db.FeatureBatch)

	b := db.NewBatch()
	for i := 0; i < 10; i++ {
		b.PutWithTTL([]byte(fmt.Sprintf("expiring-%d", i)), []byte("v"), 10)
		b.Put([]byte(fmt.Sprintf("plain-%d", i)), []byte("v"))
	}
	mustWrite(t, database, b)

	removed, err := database.GarbageCollect()
	if err != nil || removed != 0 {
		t.Errorf("Expected GC to remove nothing before expiry, got (%d, %v)", removed, err)
	}

	clock.Advance(10 * time.Second)
	removed, err = database.GarbageCollect()
	if err != nil {
		t.Fatalf("GarbageCollect failed: %v", err)
	}
	if removed != 10 {
		t.Errorf("Expected GC to remove 10 entries, got %d", removed)
	}

	removed, _ = database.GarbageCollect()
	if removed != 0 {
		t.Errorf("Expected second GC to remove nothing, got %d", removed)
	}
	expectValue(t, database, "plain-3", "v")
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database, clock := open(t, factory)
	requireFeature(t, database, db.FeatureSave|db.FeatureLoad|db.FeatureBatch)

	numEntries := 1000
	b := db.NewBatch()
	for i := 0; i < numEntries; i++ {
		b.Put([]byte(fmt.Sprintf("save-load-key-%d", i)), []byte(fmt.Sprintf("save-load-value-%d", i)))
	}
	b.PutWithTTL([]byte("with-ttl"), []byte("v"), 60)
	b.PutWithTTL([]byte("short-ttl"), []byte("v"), 1)
	mustWrite(t, database, b)

	// short-ttl is expired at Save and must not be dumped
	clock.Advance(time.Second)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	// the second database shares the clock
	database2 := factory(t, clock.Now)
	defer database2.Close()
	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	for i := 0; i < numEntries; i++ {
		expectValue(t, database2, fmt.Sprintf("save-load-key-%d", i), fmt.Sprintf("save-load-value-%d", i))
	}
	expectTTL(t, database2, "with-ttl", 59)
	expectMissing(t, database2, "short-ttl")

	if err := database2.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Expected Load of invalid data to fail")
	}
}

func testConcurrentBatches(t *testing.T, factory DBFactory) {
	database, _ := open(t, factory)
	requireFeature(t, database, db.FeatureBatch|db.FeatureGet)

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				b := db.NewBatch()
				b.Put([]byte(fmt.Sprintf("w%d-k%d", w, i)), []byte("v"))
				b.PutKeepTTL([]byte(fmt.Sprintf("w%d-last", w)), []byte(fmt.Sprintf("%d", i)))
				if err := database.Write(b); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent Write failed: %v", err)
	}

	for w := 0; w < workers; w++ {
		expectValue(t, database, fmt.Sprintf("w%d-last", w), fmt.Sprintf("%d", perWorker-1))
		expectValue(t, database, fmt.Sprintf("w%d-k%d", w, perWorker-1), "v")
	}
}

func testClosed(t *testing.T, factory DBFactory) {
	clock := NewManualClock(Epoch)
	database := factory(t, clock.Now)

	mustPut(t, database, "k", "v")
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}

	if _, err := database.Get([]byte("k")); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed from Get, got %v", err)
	}
	if err := database.Put([]byte("k"), []byte("v")); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed from Put, got %v", err)
	}
	if _, err := database.NewSnapshot(); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed from NewSnapshot, got %v", err)
	}
}
