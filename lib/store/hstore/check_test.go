package hstore

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/hkv/lib/store"
)

func TestCheckMissing(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.Check(b("k")); !store.IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if _, err := e.CheckAndRepair(b("k")); !store.IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestCheckAndRepair(t *testing.T) {
	e, database, _ := newTestEngine(t)
	for _, f := range []string{"a", "b", "c"} {
		mustSet(t, e, "k", f, "value")
	}
	// a neighbour block must not be counted
	mustSet(t, e, "k\x00", "z", "value")

	if err := e.Check(b("k")); err != nil {
		t.Fatalf("Expected a consistent collection, got %v", err)
	}
	if repaired, err := e.CheckAndRepair(b("k")); err != nil || repaired {
		t.Errorf("Expected no repair, got %v (%v)", repaired, err)
	}

	// drift the counters, the fields stay untouched
	good := readMetaT(t, database, "k")
	drifted := MetaRecord{Length: good.Length + 1, Volume: good.Volume - 4, Index: []byte("idx")}
	if err := database.Put(EncodeMeta(b("k")), EncodeMetaRecord(drifted)); err != nil {
		t.Fatal(err)
	}

	err := e.Check(b("k"))
	if !store.IsCorruption(err) {
		t.Fatalf("Expected Corruption, got %v", err)
	}
	if !strings.Contains(err.Error(), "stored len=4") || !strings.Contains(err.Error(), "scanned len=3") {
		t.Errorf("Expected both counter sets in the message, got %q", err.Error())
	}
	if m := readMetaT(t, database, "k"); m.Length != drifted.Length || m.Volume != drifted.Volume {
		t.Errorf("Expected Check not to mutate the meta record, got %+v", m)
	}

	repaired, err := e.CheckAndRepair(b("k"))
	if err != nil || !repaired {
		t.Fatalf("Expected a repair, got %v (%v)", repaired, err)
	}
	pairs, _ := e.GetAll(b("k"))
	m := readMetaT(t, database, "k")
	if m.Length != int64(len(pairs)) || m.Volume != good.Volume {
		t.Errorf("Expected len=%d vol=%d after repair, got len=%d vol=%d", len(pairs), good.Volume, m.Length, m.Volume)
	}
	if string(m.Index) != "idx" {
		t.Errorf("Expected the index to survive the repair, got %q", m.Index)
	}
	if err := e.Check(b("k")); err != nil {
		t.Errorf("Expected a consistent collection after repair, got %v", err)
	}
}
