package util

import (
	"math/rand"
	"sort"
	"testing"
)

func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[string]()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}
	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, ok := mh.Peek(); ok {
		t.Error("Peek() on empty heap should return false")
	}
	if _, ok := mh.PopMin(); ok {
		t.Error("PopMin() on empty heap should return false")
	}
}

func TestMapHeapOrder(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("b", 200)
	mh.AddItem("a", 100)
	mh.AddItem("c", 50)

	if mh.Len() != 3 {
		t.Fatalf("Heap should have 3 items, but has %d", mh.Len())
	}

	it, ok := mh.Peek()
	if !ok || it.Key != "c" || it.Priority != 50 {
		t.Errorf("Expected min item to be (c,50), got %v", it)
	}

	var got []string
	for mh.Len() > 0 {
		it, _ := mh.PopMin()
		got = append(got, it.Key)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected pop order %v, got %v", want, got)
			break
		}
	}
}

func TestMapHeapUpdateAndRemove(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("a", 100)
	mh.AddItem("b", 200)

	// moving a behind b
	mh.AddItem("a", 300)
	if mh.Len() != 2 {
		t.Errorf("Update should not add a new item, got length %d", mh.Len())
	}
	if it, _ := mh.Peek(); it.Key != "b" {
		t.Errorf("Expected b to be the min item after update, got %s", it.Key)
	}

	prio, ok := mh.RemoveByKey("b")
	if !ok || prio != 200 {
		t.Errorf("Expected RemoveByKey to return (200,true), got (%d,%v)", prio, ok)
	}
	if mh.Contains("b") {
		t.Error("Heap should not contain b after removal")
	}
	if _, ok := mh.RemoveByKey("missing"); ok {
		t.Error("RemoveByKey of a missing key should return false")
	}

	it, ok := mh.GetByKey("a")
	if !ok || it.Priority != 300 {
		t.Errorf("Expected a with priority 300, got %v", it)
	}

	mh.Clear()
	if mh.Len() != 0 || mh.Contains("a") {
		t.Error("Clear should remove all items")
	}
}

func TestMapHeapRandom(t *testing.T) {
	mh := NewMapHeap[int]()
	r := rand.New(rand.NewSource(42))

	prios := make(map[int]int64)
	for i := 0; i < 1000; i++ {
		key := r.Intn(300)
		prio := r.Int63n(10000)
		mh.AddItem(key, prio)
		prios[key] = prio
	}
	// remove some keys
	for key := 0; key < 300; key += 7 {
		if _, ok := prios[key]; ok {
			mh.RemoveByKey(key)
			delete(prios, key)
		}
	}

	expected := make([]int64, 0, len(prios))
	for _, p := range prios {
		expected = append(expected, p)
	}
	sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })

	if mh.Len() != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), mh.Len())
	}
	for i := range expected {
		it, _ := mh.PopMin()
		if it.Priority != expected[i] {
			t.Fatalf("Expected priority %d at position %d, got %d", expected[i], i, it.Priority)
		}
	}
}
