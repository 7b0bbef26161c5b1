package hstore

import (
	"testing"
	"time"

	"github.com/ValentinKolb/hkv/lib/store"
)

func expectTTL(t *testing.T, e *Engine, key string, want int64) {
	t.Helper()
	got, err := e.TimeToLive(b(key))
	if err != nil {
		t.Fatalf("TimeToLive failed: %v", err)
	}
	if got != want {
		t.Errorf("Expected ttl %d for %q, got %d", want, key, got)
	}
}

func TestExpireMissing(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if n, err := e.Expire(b("k"), 10); err != nil || n != 0 {
		t.Errorf("Expected 0 for a missing collection, got %d (%v)", n, err)
	}
	expectTTL(t, e, "k", -2)

	// an empty collection counts as missing
	mustSet(t, e, "k", "f", "v")
	if err := e.Delete(b("k"), b("f")); err != nil {
		t.Fatal(err)
	}
	if n, _ := e.Expire(b("k"), 10); n != 0 {
		t.Errorf("Expected 0 for an empty collection, got %d", n)
	}
	expectTTL(t, e, "k", -2)
}

func TestExpireClearsAndSetsDeadline(t *testing.T) {
	e, _, clock := newTestEngine(t)
	mustSet(t, e, "k", "a", "1")
	mustSet(t, e, "k", "b", "2")
	expectTTL(t, e, "k", -1)

	n, err := e.Expire(b("k"), 10)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1, got %d (%v)", n, err)
	}
	expectLength(t, e, "k", 0)
	expectFields(t, e, "k")
	expectTTL(t, e, "k", 10)

	// fields written afterwards join the deadline
	mustSet(t, e, "k", "c", "3")
	expectLength(t, e, "k", 1)
	clock.Advance(4 * time.Second)
	expectTTL(t, e, "k", 6)
	if v, err := e.Get(b("k"), b("c")); err != nil || string(v) != "3" {
		t.Errorf("Expected c=3 before the deadline, got %q (%v)", v, err)
	}

	clock.Advance(6 * time.Second)
	if _, err := e.Get(b("k"), b("c")); !store.IsNotFound(err) {
		t.Errorf("Expected the field to expire with the collection, got %v", err)
	}
	expectLength(t, e, "k", 0)
	expectTTL(t, e, "k", -2)
	expectFields(t, e, "k")
}

func TestExpireNonPositiveDeletes(t *testing.T) {
	e, database, _ := newTestEngine(t)
	mustSet(t, e, "k", "a", "1")

	if n, err := e.Expire(b("k"), 0); err != nil || n != 1 {
		t.Errorf("Expected 1, got %d (%v)", n, err)
	}
	expectTTL(t, e, "k", -2)
	expectFields(t, e, "k")
	if _, found, _ := readMeta(database, b("k")); found {
		t.Errorf("Expected the meta record to be removed")
	}
}

func TestExpireAt(t *testing.T) {
	e, _, clock := newTestEngine(t)
	now := clock.Now().Unix()

	mustSet(t, e, "k", "a", "1")
	if n, err := e.ExpireAt(b("k"), now+30); err != nil || n != 1 {
		t.Fatalf("Expected 1, got %d (%v)", n, err)
	}
	expectTTL(t, e, "k", 30)

	mustSet(t, e, "past", "a", "1")
	if n, err := e.ExpireAt(b("past"), now); err != nil || n != 1 {
		t.Errorf("Expected 1 for a past deadline, got %d (%v)", n, err)
	}
	expectTTL(t, e, "past", -2)
	expectFields(t, e, "past")
}

func TestPersist(t *testing.T) {
	e, _, clock := newTestEngine(t)

	if ok, err := e.Persist(b("k")); err != nil || ok {
		t.Errorf("Expected false for a missing collection, got %v (%v)", ok, err)
	}

	mustSet(t, e, "k", "a", "1")
	if ok, _ := e.Persist(b("k")); ok {
		t.Errorf("Expected false for a collection without ttl")
	}

	if _, err := e.Expire(b("k"), 10); err != nil {
		t.Fatal(err)
	}
	mustSet(t, e, "k", "b", "2")

	ok, err := e.Persist(b("k"))
	if err != nil || !ok {
		t.Fatalf("Expected the ttl to be removed, got %v (%v)", ok, err)
	}
	expectTTL(t, e, "k", -1)

	clock.Advance(time.Hour)
	if v, err := e.Get(b("k"), b("b")); err != nil || string(v) != "2" {
		t.Errorf("Expected the persisted field to survive, got %q (%v)", v, err)
	}
	expectLength(t, e, "k", 1)
}

func TestGarbageCollectReapsCollection(t *testing.T) {
	e, database, clock := newTestEngine(t)
	mustSet(t, e, "k", "a", "1")
	if _, err := e.Expire(b("k"), 5); err != nil {
		t.Fatal(err)
	}
	mustSet(t, e, "k", "b", "2")
	mustSet(t, e, "k", "c", "3")

	clock.Advance(5 * time.Second)
	removed, err := database.GarbageCollect()
	if err != nil {
		t.Fatal(err)
	}
	// the meta record and both fields
	if removed != 3 {
		t.Errorf("Expected 3 reaped entries, got %d", removed)
	}
}

func TestExpireFarFuture(t *testing.T) {
	e, _, clock := newTestEngine(t)

	// relative ttls beyond the nanosecond range saturate instead of wrapping into the past
	mustSet(t, e, "k", "f", "v")
	if n, err := e.Expire(b("k"), 10_000_000_000); err != nil || n != 1 {
		t.Fatalf("Expected 1, got %d (%v)", n, err)
	}
	ttl, err := e.TimeToLive(b("k"))
	if err != nil || ttl < 7_000_000_000 {
		t.Errorf("Expected a ttl of the saturated ttl of about 7.5e9 seconds, got %d (%v)", ttl, err)
	}
	mustSet(t, e, "k", "g", "w")
	expectLength(t, e, "k", 1)

	// absolute deadlines past the year 2262 saturate too
	mustSet(t, e, "k2", "f", "v")
	if n, err := e.ExpireAt(b("k2"), 100_000_000_000); err != nil || n != 1 {
		t.Fatalf("Expected 1, got %d (%v)", n, err)
	}
	ttl, err = e.TimeToLive(b("k2"))
	if err != nil || ttl < 7_000_000_000 {
		t.Errorf("Expected a ttl of the saturated ttl of about 7.5e9 seconds, got %d (%v)", ttl, err)
	}

	// a unix deadline inside the range is exact
	mustSet(t, e, "k3", "f", "v")
	if _, err := e.ExpireAt(b("k3"), clock.Now().Unix()+1000); err != nil {
		t.Fatal(err)
	}
	expectTTL(t, e, "k3", 1000)
}
