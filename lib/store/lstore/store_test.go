package lstore

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/db/engines/boltdb"
	"github.com/ValentinKolb/hkv/lib/db/engines/maple"
	"github.com/ValentinKolb/hkv/lib/db/engines/pebbledb"
	dbtesting "github.com/ValentinKolb/hkv/lib/db/testing"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/ValentinKolb/hkv/lib/store/volume"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

type engineFactory func(t *testing.T, clock *dbtesting.ManualClock) store.DBFactory

var engines = map[string]engineFactory{
	"maple": func(_ *testing.T, clock *dbtesting.ManualClock) store.DBFactory {
		return func() (db.KVDB, error) {
			return maple.NewMapleDB(&maple.DBOptions{GCInterval: -1, Clock: clock.Now}), nil
		}
	},
	"pebble": func(_ *testing.T, clock *dbtesting.ManualClock) store.DBFactory {
		return func() (db.KVDB, error) {
			return pebbledb.NewPebbleDB(&pebbledb.Options{GCInterval: -1, Clock: clock.Now})
		}
	},
	"bolt": func(t *testing.T, clock *dbtesting.ManualClock) store.DBFactory {
		path := filepath.Join(t.TempDir(), "hkv.bolt")
		return func() (db.KVDB, error) {
			return boltdb.NewBoltDB(&boltdb.Options{
				Path:            path,
				NoSync:          true,
				InitialMmapSize: 64 << 20,
				GCInterval:      -1,
				Clock:           clock.Now,
			})
		}
	},
}

// forEachEngine runs fn against a fresh store on every substrate
func forEachEngine(t *testing.T, fn func(t *testing.T, s *Store, clock *dbtesting.ManualClock)) {
	for name, factory := range engines {
		t.Run(name, func(t *testing.T) {
			clock := dbtesting.NewManualClock(dbtesting.Epoch)
			s, err := NewLocalStore(factory(t, clock), &Options{Clock: clock.Now})
			if err != nil {
				t.Fatalf("Expected store, got %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s, clock)
		})
	}
}

func mustHSet(t *testing.T, s *Store, key, field, value string) {
	t.Helper()
	if _, err := s.Hash().Set([]byte(key), []byte(field), []byte(value)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
}

func volumeKeys(t *testing.T, s *Store, start, end string) string {
	t.Helper()
	it, err := s.Volume([]byte(start), []byte(end), 0, true)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var out []string
	for ; it.Valid(); it.Next() {
		out = append(out, fmt.Sprintf("%s:%s", it.Key(), it.Type()))
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	return strings.Join(out, ",")
}

// listStub is a minimal list collection kept in memory
type listStub struct {
	keys map[string]int64
}

type listSource struct {
	keys []string
	vols []int64
	pos  int
}

func (l *listSource) Valid() bool { return l.pos < len(l.keys) }
func (l *listSource) Next() { l.pos++ }
func (l *listSource) Key() []byte { return []byte(l.keys[l.pos]) }
func (l *listSource) Volume() int64 { return l.vols[l.pos] }
func (l *listSource) Err() error { return nil }
func (l *listSource) Close() error { return nil }

func (l *listStub) VolumeScan(start, end []byte, _ int, _ bool) (volume.Source, error) {
	src := &listSource{}
	for _, k := range []string{"a", "c", "e"} {
		if _, ok := l.keys[k]; ok && k >= string(start) && (len(end) == 0 || k <= string(end)) {
			src.keys = append(src.keys, k)
			src.vols = append(src.vols, l.keys[k])
		}
	}
	return src, nil
}

func (l *listStub) DeleteKey(key []byte) (int64, error) {
	if _, ok := l.keys[string(key)]; !ok {
		return 0, nil
	}
	delete(l.keys, string(key))
	return 1, nil
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestHashAndKVShareSubstrate(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *Store, _ *dbtesting.ManualClock) {
		mustHSet(t, s, "k", "f", "hash")
		if err := s.KV().Set([]byte("k"), []byte("plain")); err != nil {
			t.Fatal(err)
		}

		v, err := s.Hash().Get([]byte("k"), []byte("f"))
		if err != nil || string(v) != "hash" {
			t.Errorf("Expected hash value, got %q (%v)", v, err)
		}
		v, err = s.KV().Get([]byte("k"))
		if err != nil || string(v) != "plain" {
			t.Errorf("Expected plain value, got %q (%v)", v, err)
		}
		if got := volumeKeys(t, s, "", ""); got != "k:hash,k:kv" {
			t.Errorf("Expected k:hash,k:kv, got %s", got)
		}
	})
}

func TestVolumeAcrossTypes(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *Store, _ *dbtesting.ManualClock) {
		mustHSet(t, s, "b", "f", "v")
		mustHSet(t, s, "d", "f", "v")
		_ = s.KV().Set([]byte("f"), []byte("value"))
		if err := s.RegisterCollection(store.TypeList, &listStub{keys: map[string]int64{"a": 5, "c": 6, "e": 7}}); err != nil {
			t.Fatal(err)
		}

		if got := volumeKeys(t, s, "a", "f"); got != "a:list,b:hash,c:list,d:hash,e:list,f:kv" {
			t.Errorf("Expected merged order, got %s", got)
		}

		it, _ := s.Volume([]byte("f"), nil, 0, false)
		defer it.Close()
		if !it.Valid() || it.Volume() != int64(len("f")+len("value")) {
			t.Errorf("Expected the kv volume to be key plus value length")
		}
	})
}

func TestRegisterCollectionRejectsBuiltins(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *Store, _ *dbtesting.ManualClock) {
		if err := s.RegisterCollection(store.TypeHash, &listStub{}); !store.IsInvalidArgument(err) {
			t.Errorf("Expected InvalidArgument, got %v", err)
		}
		if err := s.RegisterCollection(store.TypeSet, nil); !store.IsInvalidArgument(err) {
			t.Errorf("Expected InvalidArgument for nil, got %v", err)
		}
	})
}

func TestRangeDeleteEndToEnd(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *Store, _ *dbtesting.ManualClock) {
		for i := 0; i < 5; i++ {
			mustHSet(t, s, fmt.Sprintf("user:%d", i), "name", "x")
		}
		_ = s.KV().Set([]byte("user:9"), []byte("plain"))
		mustHSet(t, s, "zzz", "f", "keep")

		deleted, err := s.RangeDelete([]byte("user:"), []byte("user:~"), 0)
		if err != nil {
			t.Fatal(err)
		}
		if deleted != 6 {
			t.Errorf("Expected 6 deleted entities, got %d", deleted)
		}
		if got := volumeKeys(t, s, "", ""); got != "zzz:hash" {
			t.Errorf("Expected only zzz to remain, got %s", got)
		}
		if pairs, _ := s.Hash().GetAll([]byte("user:1")); len(pairs) != 0 {
			t.Errorf("Expected the fields of deleted collections to be gone, got %d", len(pairs))
		}
	})
}

func TestRangeDeleteBoltSmallMmap(t *testing.T) {
	clock := dbtesting.NewManualClock(dbtesting.Epoch)
	path := filepath.Join(t.TempDir(), "hkv.bolt")
	s, err := NewLocalStore(func() (db.KVDB, error) {
		return boltdb.NewBoltDB(&boltdb.Options{
			Path:            path,
			NoSync:          true,
			InitialMmapSize: 32 << 10,
			GCInterval:      -1,
			Clock:           clock.Now,
		})
	}, &Options{Clock: clock.Now})
	if err != nil {
		t.Fatalf("Expected store, got %v", err)
	}
	defer s.Close()

	value := strings.Repeat("v", 2048)
	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("big:%03d", i))
		for f := 0; f < 4; f++ {
			if _, err := s.Hash().Set(key, []byte(fmt.Sprintf("f%d", f)), []byte(value)); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}
	}

	done := make(chan struct{})
	var deleted int64
	go func() {
		defer close(done)
		deleted, err = s.RangeDelete(nil, nil, 0)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("Range delete did not finish")
	}
	if err != nil || deleted != 300 {
		t.Errorf("Expected 300 deleted collections, got %d (%v)", deleted, err)
	}
	if got := volumeKeys(t, s, "", ""); got != "" {
		t.Errorf("Expected an empty store, got %s", got)
	}
}

func TestExpireAndGarbageCollect(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *Store, clock *dbtesting.ManualClock) {
		mustHSet(t, s, "session", "a", "1")
		if n, err := s.Hash().Expire([]byte("session"), 30); err != nil || n != 1 {
			t.Fatalf("Expected 1, got %d (%v)", n, err)
		}
		mustHSet(t, s, "session", "b", "2")
		mustHSet(t, s, "session", "c", "3")

		clock.Advance(29 * time.Second)
		if n, _ := s.Hash().Length([]byte("session")); n != 2 {
			t.Errorf("Expected 2 fields before the deadline, got %d", n)
		}

		clock.Advance(time.Second)
		if ttl, _ := s.Hash().TimeToLive([]byte("session")); ttl != -2 {
			t.Errorf("Expected -2 after the deadline, got %d", ttl)
		}
		removed, err := s.DB().GarbageCollect()
		if err != nil {
			t.Fatal(err)
		}
		if removed != 3 {
			t.Errorf("Expected meta and both fields to be reaped, got %d", removed)
		}
	})
}

func TestSaveLoadPreservesCollections(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *Store, clock *dbtesting.ManualClock) {
		mustHSet(t, s, "h", "a", "1")
		mustHSet(t, s, "h", "b", "2")
		_ = s.Hash().SetIndex([]byte("h"), []byte("idx"))
		_ = s.KV().SetWithTTL([]byte("k"), []byte("v"), 100)

		var buf bytes.Buffer
		if err := s.DB().Save(&buf); err != nil {
			t.Fatal(err)
		}

		target, err := NewLocalStore(engines["maple"](t, clock), &Options{Clock: clock.Now})
		if err != nil {
			t.Fatal(err)
		}
		defer target.Close()
		if err := target.DB().Load(&buf); err != nil {
			t.Fatal(err)
		}

		if err := target.Hash().Check([]byte("h")); err != nil {
			t.Errorf("Expected a consistent collection after load, got %v", err)
		}
		if idx, _ := target.Hash().GetIndex([]byte("h")); string(idx) != "idx" {
			t.Errorf("Expected the index to survive, got %q", idx)
		}
		if ttl, _ := target.KV().TimeToLive([]byte("k")); ttl != 100 {
			t.Errorf("Expected ttl 100 after load, got %d", ttl)
		}
	})
}

func TestCloseAndMetrics(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *Store, _ *dbtesting.ManualClock) {
		mustHSet(t, s, "k", "f", "v")

		var out bytes.Buffer
		s.WriteMetrics(&out)
		if !strings.Contains(out.String(), `hkv_hash_ops_total{op="set"} 1`) {
			t.Errorf("Expected the set counter in the metrics, got:\n%s", out.String())
		}
		if !strings.Contains(out.String(), "hkv_lock_acquired_total 1") {
			t.Errorf("Expected the lock counter in the metrics, got:\n%s", out.String())
		}

		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("Expected a second close to be a no-op, got %v", err)
		}
		if _, err := s.RangeDelete(nil, nil, 0); err == nil {
			t.Errorf("Expected an error after close")
		}
	})
}
