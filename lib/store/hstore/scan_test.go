package hstore

import (
	"strings"
	"testing"
)

func collectFields(t *testing.T, it *FieldIterator) string {
	t.Helper()
	defer it.Close()
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Field())+"="+string(it.Value()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	return strings.Join(got, ",")
}

func collectMeta(t *testing.T, it *MetaIterator) string {
	t.Helper()
	defer it.Close()
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	return strings.Join(got, ",")
}

func TestScanFields(t *testing.T) {
	e, _, _ := newTestEngine(t)
	for _, f := range []string{"a", "b", "c", "d", "e"} {
		mustSet(t, e, "k", f, strings.ToUpper(f))
	}
	mustSet(t, e, "k2", "a", "other")

	cases := []struct {
		start, end string
		limit      int
		want       string
	}{
		{"", "", 0, "a=A,b=B,c=C,d=D,e=E"},
		{"b", "d", 0, "b=B,c=C,d=D"},
		{"b", "", 2, "b=B,c=C"},
		{"bb", "dd", 10, "c=C,d=D"},
		{"f", "", 0, ""},
		{"", "a", -1, "a=A"},
	}
	for _, c := range cases {
		it, err := e.ScanFields(b("k"), b(c.start), b(c.end), c.limit, false)
		if err != nil {
			t.Fatal(err)
		}
		if got := collectFields(t, it); got != c.want {
			t.Errorf("Expected [%s] for [%q, %q] limit %d, got [%s]", c.want, c.start, c.end, c.limit, got)
		}
	}
}

func TestScanFieldsSnapshot(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustSet(t, e, "k", "a", "1")
	mustSet(t, e, "k", "c", "3")

	it, err := e.ScanFields(b("k"), nil, nil, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	mustSet(t, e, "k", "b", "2")
	mustSet(t, e, "k", "c", "changed")

	if got := collectFields(t, it); got != "a=1,c=3" {
		t.Errorf("Expected the snapshot view a=1,c=3, got %s", got)
	}
}

func TestScanMeta(t *testing.T) {
	e, _, _ := newTestEngine(t)
	for _, k := range []string{"a", "b", "c", "d"} {
		mustSet(t, e, k, "f", "v")
	}
	if err := e.SetIndex(b("b"), []byte("idx")); err != nil {
		t.Fatal(err)
	}
	if err := e.SetIndex(b("d"), []byte("idx")); err != nil {
		t.Fatal(err)
	}

	it, err := e.ScanMeta(nil, nil, 0, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := collectMeta(t, it); got != "a,b,c,d" {
		t.Errorf("Expected a,b,c,d, got %s", got)
	}

	it, _ = e.ScanMeta(b("b"), b("c"), 0, true, false)
	if got := collectMeta(t, it); got != "b,c" {
		t.Errorf("Expected b,c, got %s", got)
	}

	it, _ = e.ScanMeta(nil, nil, 0, false, true)
	if got := collectMeta(t, it); got != "b,d" {
		t.Errorf("Expected only records with index b,d, got %s", got)
	}

	it, _ = e.ScanMeta(nil, nil, 1, false, true)
	if got := collectMeta(t, it); got != "b" {
		t.Errorf("Expected limit 1 to apply to the visible records, got %s", got)
	}

	it, _ = e.ScanMeta(b("a"), b("a"), 0, false, false)
	defer it.Close()
	if !it.Valid() {
		t.Fatalf("Expected record a")
	}
	if m := it.Meta(); m.Length != 1 || it.Volume() != entrySize(b("a"), b("f"), b("v")) {
		t.Errorf("Expected len=1 vol=3, got len=%d vol=%d", m.Length, it.Volume())
	}
}

func TestVolumeScanIgnoresFields(t *testing.T) {
	e, _, _ := newTestEngine(t)
	mustSet(t, e, "x", "f", "v")

	// field entries ('h') sort after meta records ('H') and must not leak into the scan
	src, err := e.VolumeScan(nil, nil, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	n := 0
	for ; src.Valid(); src.Next() {
		if string(src.Key()) != "x" {
			t.Errorf("Expected only x, got %q", src.Key())
		}
		n++
	}
	if n != 1 {
		t.Errorf("Expected 1 entity, got %d", n)
	}
}
