package kvstore

import (
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/hkv/lib/db/engines/maple"
	dbtesting "github.com/ValentinKolb/hkv/lib/db/testing"
	"github.com/ValentinKolb/hkv/lib/store"
)

func newTestEngine(t *testing.T) (*Engine, *dbtesting.ManualClock) {
	t.Helper()
	clock := dbtesting.NewManualClock(dbtesting.Epoch)
	database := maple.NewMapleDB(&maple.DBOptions{GCInterval: -1, Clock: clock.Now})
	t.Cleanup(func() { _ = database.Close() })

	e, err := New(database, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e, clock
}

func TestSetGetDelete(t *testing.T) {
	e, _ := newTestEngine(t)

	if err := e.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if v, err := e.Get([]byte("a")); err != nil || string(v) != "1" {
		t.Errorf("Expected 1, got %q (%v)", v, err)
	}
	if _, err := e.Get([]byte("b")); !store.IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}

	if n, err := e.Delete([]byte("a")); err != nil || n != 1 {
		t.Errorf("Expected 1 removed key, got %d (%v)", n, err)
	}
	if n, err := e.Delete([]byte("a")); err != nil || n != 0 {
		t.Errorf("Expected 0 for a missing key, got %d (%v)", n, err)
	}
	if err := e.Set(nil, []byte("x")); !store.IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument for an empty key, got %v", err)
	}
}

func TestTTL(t *testing.T) {
	e, clock := newTestEngine(t)

	if ttl, _ := e.TimeToLive([]byte("a")); ttl != -2 {
		t.Errorf("Expected -2 for a missing key, got %d", ttl)
	}
	_ = e.Set([]byte("a"), []byte("1"))
	if ttl, _ := e.TimeToLive([]byte("a")); ttl != -1 {
		t.Errorf("Expected -1 without ttl, got %d", ttl)
	}

	if err := e.SetWithTTL([]byte("a"), []byte("1"), 20); err != nil {
		t.Fatal(err)
	}
	if ttl, _ := e.TimeToLive([]byte("a")); ttl != 20 {
		t.Errorf("Expected 20, got %d", ttl)
	}
	clock.Advance(20 * time.Second)
	if _, err := e.Get([]byte("a")); !store.IsNotFound(err) {
		t.Errorf("Expected the key to expire, got %v", err)
	}
}

func TestScan(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		_ = e.Set([]byte(k), []byte(strings.Repeat("v", len(k)+1)))
	}

	it, err := e.Scan([]byte("b"), []byte("c"), 0, true)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
		if it.Volume() != 3 {
			t.Errorf("Expected volume 3 for %q, got %d", it.Key(), it.Volume())
		}
	}
	if strings.Join(got, ",") != "b,c" {
		t.Errorf("Expected b,c, got %v", got)
	}

	limited, _ := e.Scan(nil, nil, 3, false)
	defer limited.Close()
	n := 0
	for ; limited.Valid(); limited.Next() {
		n++
	}
	if n != 3 {
		t.Errorf("Expected 3 entries with limit 3, got %d", n)
	}
}
