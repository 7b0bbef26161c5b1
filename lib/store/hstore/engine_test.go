package hstore

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/db/engines/maple"
	dbtesting "github.com/ValentinKolb/hkv/lib/db/testing"
	"github.com/ValentinKolb/hkv/lib/store"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func newTestEngine(t *testing.T) (*Engine, db.KVDB, *dbtesting.ManualClock) {
	t.Helper()
	clock := dbtesting.NewManualClock(dbtesting.Epoch)
	database := maple.NewMapleDB(&maple.DBOptions{GCInterval: -1, Clock: clock.Now})
	t.Cleanup(func() { _ = database.Close() })

	e, err := New(database, &Options{Clock: clock.Now})
	if err != nil {
		t.Fatalf("Expected engine, got %v", err)
	}
	return e, database, clock
}

func b(s string) []byte { return []byte(s) }

func mustSet(t *testing.T, e *Engine, key, field, value string) {
	t.Helper()
	if _, err := e.Set(b(key), b(field), b(value)); err != nil {
		t.Fatalf("Set %s/%s failed: %v", key, field, err)
	}
}

func expectLength(t *testing.T, e *Engine, key string, want int64) {
	t.Helper()
	got, err := e.Length(b(key))
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if got != want {
		t.Errorf("Expected length %d for %q, got %d", want, key, got)
	}
}

func expectFields(t *testing.T, e *Engine, key string, want ...string) {
	t.Helper()
	pairs, err := e.GetAll(b(key))
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	got := make([]string, len(pairs))
	for i, p := range pairs {
		got[i] = string(p.Field)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected fields [%s], got [%s]", strings.Join(want, ","), strings.Join(got, ","))
	}
}

func readMetaT(t *testing.T, database db.KVDB, key string) MetaRecord {
	t.Helper()
	m, found, err := readMeta(database, b(key))
	if err != nil || !found {
		t.Fatalf("Expected meta record for %q, got found=%v err=%v", key, found, err)
	}
	return m
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestNewRequiresFeatures(t *testing.T) {
	_, err := New(unsupportedDB{}, nil)
	if store.Code(err) != store.RetCUnsupportedOperation {
		t.Errorf("Expected UnsupportedOperation, got %v", err)
	}
}

func TestKeyValidation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	long := b(strings.Repeat("k", store.DefaultMaxKeyLength))

	for _, key := range [][]byte{nil, long} {
		if _, err := e.Set(key, b("f"), b("v")); !store.IsInvalidArgument(err) {
			t.Errorf("Expected InvalidArgument from Set, got %v", err)
		}
		if _, err := e.Get(key, b("f")); !store.IsInvalidArgument(err) {
			t.Errorf("Expected InvalidArgument from Get, got %v", err)
		}
		if _, err := e.Length(key); !store.IsInvalidArgument(err) {
			t.Errorf("Expected InvalidArgument from Length, got %v", err)
		}
		if _, err := e.Expire(key, 10); !store.IsInvalidArgument(err) {
			t.Errorf("Expected InvalidArgument from Expire, got %v", err)
		}
	}
}

func TestSetGetDelete(t *testing.T) {
	e, database, _ := newTestEngine(t)

	inserted, err := e.Set(b("user"), b("name"), b("alice"))
	if err != nil || !inserted {
		t.Fatalf("Expected a new insertion, got %v (%v)", inserted, err)
	}
	inserted, err = e.Set(b("user"), b("name"), b("bob"))
	if err != nil || inserted {
		t.Errorf("Expected an update, got inserted=%v (%v)", inserted, err)
	}

	value, err := e.Get(b("user"), b("name"))
	if err != nil || string(value) != "bob" {
		t.Errorf("Expected bob, got %q (%v)", value, err)
	}

	m := readMetaT(t, database, "user")
	if m.Length != 1 || m.Volume != int64(len("user")+len("name")+len("bob")) {
		t.Errorf("Expected len=1 vol=11, got len=%d vol=%d", m.Length, m.Volume)
	}

	if _, err := e.Get(b("user"), b("age")); !store.IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if err := e.Delete(b("user"), b("age")); !store.IsNotFound(err) {
		t.Errorf("Expected NotFound when deleting a missing field, got %v", err)
	}

	if err := e.Delete(b("user"), b("name")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	expectLength(t, e, "user", 0)
	if m := readMetaT(t, database, "user"); m.Volume != 0 {
		t.Errorf("Expected volume 0, got %d", m.Volume)
	}
}

func TestSetSameValueWritesNothing(t *testing.T) {
	e, database, _ := newTestEngine(t)
	mustSet(t, e, "k", "f", "v")

	// a stale meta record shows whether the second set wrote anything
	if err := database.Put(EncodeMeta(b("k")), EncodeMetaRecord(MetaRecord{Length: 7})); err != nil {
		t.Fatal(err)
	}
	inserted, err := e.Set(b("k"), b("f"), b("v"))
	if err != nil || inserted {
		t.Errorf("Expected no insertion, got %v (%v)", inserted, err)
	}
	expectLength(t, e, "k", 7)
}

func TestSetIfAbsent(t *testing.T) {
	e, _, _ := newTestEngine(t)

	set, err := e.SetIfAbsent(b("k"), b("f"), b("1"))
	if err != nil || !set {
		t.Errorf("Expected first SetIfAbsent to set, got %v (%v)", set, err)
	}
	set, err = e.SetIfAbsent(b("k"), b("f"), b("2"))
	if err != nil || set {
		t.Errorf("Expected second SetIfAbsent to be a no-op, got %v (%v)", set, err)
	}
	if v, _ := e.Get(b("k"), b("f")); string(v) != "1" {
		t.Errorf("Expected value 1, got %q", v)
	}
	expectLength(t, e, "k", 1)
}

func TestMultiSetAndMultiGet(t *testing.T) {
	e, database, _ := newTestEngine(t)
	mustSet(t, e, "k", "a", "1")

	changed, inserted, err := e.MultiSet(b("k"), []store.FieldValue{
		{Field: b("a"), Value: b("1")},
		{Field: b("b"), Value: b("2")},
		{Field: b("c"), Value: b("3")},
		{Field: b("b"), Value: b("22")},
	})
	if err != nil {
		t.Fatalf("MultiSet failed: %v", err)
	}
	// a is unchanged, the second b overwrites the pending first one
	if inserted != 2 {
		t.Errorf("Expected 2 new fields (b and c), got %d", inserted)
	}
	want := []bool{false, true, true, true}
	for i := range want {
		if changed[i] != want[i] {
			t.Errorf("Expected changed[%d]=%v, got %v", i, want[i], changed[i])
		}
	}

	expectLength(t, e, "k", 3)
	m := readMetaT(t, database, "k")
	wantVol := entrySize(b("k"), b("a"), b("1")) + entrySize(b("k"), b("b"), b("22")) + entrySize(b("k"), b("c"), b("3"))
	if m.Volume != wantVol {
		t.Errorf("Expected volume %d, got %d", wantVol, m.Volume)
	}

	results, err := e.MultiGet(b("k"), [][]byte{b("a"), b("missing"), b("b")})
	if err != nil {
		t.Fatalf("MultiGet failed: %v", err)
	}
	if string(results[0].Value) != "1" || results[0].Err != nil {
		t.Errorf("Expected a=1, got %q (%v)", results[0].Value, results[0].Err)
	}
	if !store.IsNotFound(results[1].Err) {
		t.Errorf("Expected NotFound for missing, got %v", results[1].Err)
	}
	if string(results[2].Value) != "22" {
		t.Errorf("Expected b=22 after the later pair won, got %q", results[2].Value)
	}
	if err := e.Check(b("k")); err != nil {
		t.Errorf("Expected consistent counters, got %v", err)
	}
}

func TestDeleteMany(t *testing.T) {
	e, _, _ := newTestEngine(t)
	for _, f := range []string{"a", "b", "c", "d"} {
		mustSet(t, e, "k", f, "v")
	}

	removed, err := e.DeleteMany(b("k"), [][]byte{b("a"), b("c"), b("c"), b("x")})
	if err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed fields, got %d", removed)
	}
	expectFields(t, e, "k", "b", "d")
	expectLength(t, e, "k", 2)
}

func TestDeleteCollectionIdempotent(t *testing.T) {
	e, database, _ := newTestEngine(t)
	mustSet(t, e, "k", "a", "1")
	mustSet(t, e, "k", "b", "2")

	removed, err := e.DeleteCollection(b("k"))
	if err != nil || removed != 1 {
		t.Errorf("Expected 1 removed collection, got %d (%v)", removed, err)
	}
	expectLength(t, e, "k", 0)

	removed, err = e.DeleteCollection(b("k"))
	if err != nil || removed != 0 {
		t.Errorf("Expected a no-op second delete, got %d (%v)", removed, err)
	}
	expectLength(t, e, "k", 0)

	// fields are purged together with the counters
	expectFields(t, e, "k")
	if _, err := database.Get(EncodeField(b("k"), b("a"))); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected the field entry to be gone, got %v", err)
	}
}

func TestCollectionsWithNulBytesStaySeparate(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustSet(t, e, "a", "f", "1")
	mustSet(t, e, "a\x00", "f", "2")
	mustSet(t, e, "a\x00b", "g", "3")

	expectFields(t, e, "a", "f")
	expectFields(t, e, "a\x00", "f")
	expectLength(t, e, "a\x00b", 1)

	if _, err := e.DeleteCollection(b("a")); err != nil {
		t.Fatal(err)
	}
	if v, err := e.Get(b("a\x00"), b("f")); err != nil || string(v) != "2" {
		t.Errorf("Expected neighbour collection untouched, got %q (%v)", v, err)
	}
}

func TestKeysValuesStrlenExists(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustSet(t, e, "k", "b", "22")
	mustSet(t, e, "k", "a", "1")
	mustSet(t, e, "k", "c", "333")

	keys, err := e.Keys(b("k"))
	if err != nil || len(keys) != 3 || string(keys[0]) != "a" || string(keys[2]) != "c" {
		t.Errorf("Expected sorted keys a,b,c, got %q (%v)", keys, err)
	}
	values, err := e.Values(b("k"))
	if err != nil || len(values) != 3 || string(values[1]) != "22" {
		t.Errorf("Expected values in field order, got %q (%v)", values, err)
	}

	if n, _ := e.StringLength(b("k"), b("c")); n != 3 {
		t.Errorf("Expected strlen 3, got %d", n)
	}
	if n, err := e.StringLength(b("k"), b("x")); n != 0 || err != nil {
		t.Errorf("Expected strlen 0 for a missing field, got %d (%v)", n, err)
	}
	if ok, _ := e.Exists(b("k"), b("a")); !ok {
		t.Errorf("Expected a to exist")
	}
	if ok, err := e.Exists(b("k"), b("x")); ok || err != nil {
		t.Errorf("Expected x not to exist, got %v (%v)", ok, err)
	}
}

func TestLengthMatchesScan(t *testing.T) {
	e, _, _ := newTestEngine(t)
	r := rand.New(rand.NewSource(1))

	live := map[string]bool{}
	for i := 0; i < 500; i++ {
		field := fmt.Sprintf("f%02d", r.Intn(40))
		switch r.Intn(3) {
		case 0, 1:
			mustSet(t, e, "k", field, strings.Repeat("v", r.Intn(20)))
			live[field] = true
		case 2:
			fields := [][]byte{b(field), b(fmt.Sprintf("f%02d", r.Intn(40)))}
			if _, err := e.DeleteMany(b("k"), fields); err != nil {
				t.Fatal(err)
			}
			for _, f := range fields {
				delete(live, string(f))
			}
		}

		pairs, err := e.GetAll(b("k"))
		if err != nil {
			t.Fatal(err)
		}
		length, _ := e.Length(b("k"))
		if length != int64(len(pairs)) || length != int64(len(live)) {
			t.Fatalf("Step %d: expected length %d, got %d (scan %d)", i, len(live), length, len(pairs))
		}
	}
	if err := e.Check(b("k")); err != nil {
		t.Errorf("Expected consistent counters after random operations, got %v", err)
	}
}

func TestIncrementInteger(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if v, err := e.IncrementInteger(b("k"), b("n"), 5); err != nil || v != 5 {
		t.Errorf("Expected 5, got %d (%v)", v, err)
	}
	if v, err := e.IncrementInteger(b("k"), b("n"), -7); err != nil || v != -2 {
		t.Errorf("Expected -2, got %d (%v)", v, err)
	}

	mustSet(t, e, "k", "text", "abc")
	if _, err := e.IncrementInteger(b("k"), b("text"), 1); !store.IsCorruption(err) {
		t.Errorf("Expected Corruption for a non-numeric value, got %v", err)
	}

	mustSet(t, e, "k", "max", fmt.Sprint(int64(math.MaxInt64)))
	if _, err := e.IncrementInteger(b("k"), b("max"), 1); !store.IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument on overflow, got %v", err)
	}
	if v, _ := e.Get(b("k"), b("max")); string(v) != fmt.Sprint(int64(math.MaxInt64)) {
		t.Errorf("Expected the value to be unchanged after overflow, got %s", v)
	}

	mustSet(t, e, "k", "min", fmt.Sprint(int64(math.MinInt64)))
	if _, err := e.IncrementInteger(b("k"), b("min"), -1); !store.IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument on underflow, got %v", err)
	}
	if v, err := e.IncrementInteger(b("k"), b("min"), math.MaxInt64); err != nil || v != -1 {
		t.Errorf("Expected -1, got %d (%v)", v, err)
	}
	if err := e.Check(b("k")); err != nil {
		t.Errorf("Expected consistent counters, got %v", err)
	}
}

func TestIncrementFloat(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cases := []struct {
		delta float64
		want  string
	}{
		{10.5, "10.5"},
		{0.1, "10.6"},
		{-0.6, "10"},
		{1.0 / 3.0, "10.333333"},
	}
	for _, c := range cases {
		got, err := e.IncrementFloat(b("k"), b("f"), c.delta)
		if err != nil || got != c.want {
			t.Errorf("Expected %s, got %s (%v)", c.want, got, err)
		}
	}
	if v, _ := e.Get(b("k"), b("f")); string(v) != "10.333333" {
		t.Errorf("Expected stored value 10.333333, got %s", v)
	}

	mustSet(t, e, "k", "text", "x1")
	if _, err := e.IncrementFloat(b("k"), b("text"), 1); !store.IsCorruption(err) {
		t.Errorf("Expected Corruption for a non-numeric value, got %v", err)
	}

	mustSet(t, e, "k", "big", "1e308")
	if _, err := e.IncrementFloat(b("k"), b("big"), 1e308); !store.IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument for an infinite result, got %v", err)
	}
	if _, err := e.IncrementFloat(b("k"), b("f"), math.NaN()); !store.IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument for a NaN increment, got %v", err)
	}
}

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		0:         "0",
		3:         "3",
		3.5:       "3.5",
		-2.25:     "-2.25",
		0.0000001: "0",
		1234.5678: "1234.5678",
	}
	for in, want := range cases {
		if got := formatFloat(in); got != want {
			t.Errorf("Expected %s for %v, got %s", want, in, got)
		}
	}
}

func TestIndex(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if _, err := e.GetIndex(b("k")); !store.IsNotFound(err) {
		t.Errorf("Expected NotFound for a missing collection, got %v", err)
	}

	mustSet(t, e, "k", "f", "v")
	index := []byte{0x00, 0x01, 0x02}
	if err := e.SetIndex(b("k"), index); err != nil {
		t.Fatal(err)
	}
	got, err := e.GetIndex(b("k"))
	if err != nil || !bytes.Equal(got, index) {
		t.Errorf("Expected index %x, got %x (%v)", index, got, err)
	}
	expectLength(t, e, "k", 1)

	// counters survive later writes, the index too
	mustSet(t, e, "k", "g", "v")
	if got, _ := e.GetIndex(b("k")); !bytes.Equal(got, index) {
		t.Errorf("Expected the index to survive a write, got %x", got)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	e, _, _ := newTestEngine(t)

	const workers = 8
	const rounds = 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if _, err := e.IncrementInteger(b("k"), b("counter"), 1); err != nil {
					t.Error(err)
					return
				}
				if _, err := e.Set(b("k"), b(fmt.Sprintf("w%d-%d", w, i%10)), b("x")); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if v, _ := e.Get(b("k"), b("counter")); string(v) != fmt.Sprint(workers*rounds) {
		t.Errorf("Expected counter %d, got %s", workers*rounds, v)
	}
	expectLength(t, e, "k", 1+workers*10)
	if err := e.Check(b("k")); err != nil {
		t.Errorf("Expected consistent counters, got %v", err)
	}
	if e.Metrics().Count("incrby") != workers*rounds {
		t.Errorf("Expected %d recorded increments, got %d", workers*rounds, e.Metrics().Count("incrby"))
	}
}

// unsupportedDB is a substrate without any features
type unsupportedDB struct{ db.KVDB }

func (unsupportedDB) SupportsFeature(db.Feature) bool { return false }
func (unsupportedDB) GetInfo() db.DatabaseInfo { return db.DatabaseInfo{DbType: "none"} }
