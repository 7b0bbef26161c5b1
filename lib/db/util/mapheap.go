// Package util
//
// This file provides the expiration queue used by the in-memory engine.
//
// MapHeap combines a binary min-heap ordered by priority (typically a deadline)
// with a map from key to heap slot. This gives:
//   - O(log n) Push, Pop and priority updates
//   - O(1) lookups by key
//   - O(log n) removal by key (needed when an entry is overwritten or deleted
//     before its deadline)
//
// MapHeap is not thread-safe, callers must synchronize access.
//
// Example usage:
//
//	queue := NewMapHeap[string]()
//	queue.AddItem("a", deadlineA)
//	queue.AddItem("b", deadlineB)
//
//	for {
//	    next, ok := queue.Peek()
//	    if !ok || next.Priority > now {
//	        break
//	    }
//	    queue.RemoveByKey(next.Key)
//	}
package util

import (
	"container/heap"
	"fmt"
)

// HeapItem is an entry of a MapHeap
type HeapItem[K comparable] struct {
	Key      K     // Unique identifier for the item
	Priority int64 // Priority used for ordering in the heap (lowest first)
	index    int   // Index in the heap, maintained by heap package
}

func (i *HeapItem[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap with key-based access
type MapHeap[K comparable] struct {
	items    []*HeapItem[K]     // The actual heap slice
	itemsMap map[K]*HeapItem[K] // Map for O(1) access by key
}

// NewMapHeap creates a new empty queue
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*HeapItem[K], 0),
		itemsMap: make(map[K]*HeapItem[K]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (mh *MapHeap[K]) Len() int { return len(mh.items) }

// Less compares items by priority (part of heap.Interface)
func (mh *MapHeap[K]) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap[K]) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface, use AddItem instead)
func (mh *MapHeap[K]) Push(x any) {
	it := x.(*HeapItem[K])
	it.index = len(mh.items)
	mh.items = append(mh.items, it)
	mh.itemsMap[it.Key] = it
}

// Pop removes and returns the last item (part of heap.Interface, use heap.Pop instead)
func (mh *MapHeap[K]) Pop() any {
	old := mh.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.index = -1
	mh.items = old[:n-1]
	delete(mh.itemsMap, it.Key)
	return it
}

// AddItem adds a new item to the queue or updates the priority of an existing one
func (mh *MapHeap[K]) AddItem(key K, priority int64) {
	if it, exists := mh.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(mh, it.index)
		return
	}
	heap.Push(mh, &HeapItem[K]{Key: key, Priority: priority})
}

// RemoveByKey removes an item by its key and returns its priority
func (mh *MapHeap[K]) RemoveByKey(key K) (int64, bool) {
	it, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, it.index)
	return it.Priority, true
}

// PopMin removes and returns the item with the lowest priority
func (mh *MapHeap[K]) PopMin() (*HeapItem[K], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return heap.Pop(mh).(*HeapItem[K]), true
}

// Peek returns the item with the lowest priority without removing it
func (mh *MapHeap[K]) Peek() (*HeapItem[K], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// Contains checks if a key exists in the queue
func (mh *MapHeap[K]) Contains(key K) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (mh *MapHeap[K]) GetByKey(key K) (*HeapItem[K], bool) {
	it, exists := mh.itemsMap[key]
	return it, exists
}

// Clear removes all items
func (mh *MapHeap[K]) Clear() {
	mh.items = mh.items[:0]
	mh.itemsMap = make(map[K]*HeapItem[K])
}
