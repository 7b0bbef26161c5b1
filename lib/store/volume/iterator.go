package volume

import (
	"bytes"
	"container/heap"
	"time"

	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	log       = logger.GetLogger("volume")
	opMetrics = store.NewOpMetrics("hkv_volume")
)

// Metrics returns the metrics of all volume iterators and range deletes of the process
func Metrics() *store.OpMetrics {
	return opMetrics
}

// --------------------------------------------------------------------------
// Source Heap
// --------------------------------------------------------------------------

// head is the current position of one source
type head struct {
	key []byte
	vol int64
	typ store.DataType
	src Source
}

// sourceHeap is a min-heap of source heads ordered by key, equal keys by type rank
type sourceHeap []*head

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].typ.Rank() < h[j].typ.Rank()
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sourceHeap) Push(x any) { *h = append(*h, x.(*head)) }

func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// Iterator merges the entities of all collection types into one stream sorted by key.
// Key, Volume and Type describe the current entity, Next consumes it.
type Iterator struct {
	heap    sourceHeap
	end     []byte
	limit   int
	emitted int
	err     error
}

// NewIterator opens one source per collection in cols, bounded by start <= key <= end,
// and merges them. An empty end means unbounded, a limit <= 0 means uncapped.
// With useSnapshot every source reads from its own snapshot. The iterator must be closed.
//
// Thread-safety: The returned iterator is not safe for concurrent use.
func NewIterator(cols Collections, start, end []byte, limit int, useSnapshot bool) (it *Iterator, err error) {
	defer opMetrics.Observe("scan", time.Now(), &err)

	it = &Iterator{end: end, limit: limit}
	for _, typ := range store.DataTypes {
		col, ok := cols[typ]
		if !ok || col == nil {
			continue
		}
		src, err := col.VolumeScan(start, end, limit, useSnapshot)
		if err != nil {
			_ = it.Close()
			return nil, err
		}
		if !it.push(typ, src) && it.err != nil {
			err = it.err
			_ = it.Close()
			return nil, err
		}
	}
	return it, nil
}

// withinEnd reports whether key is not past the end bound
func (it *Iterator) withinEnd(key []byte) bool {
	return len(it.end) == 0 || bytes.Compare(key, it.end) <= 0
}

// push adds the current position of src to the heap. Exhausted sources are closed.
func (it *Iterator) push(typ store.DataType, src Source) bool {
	if src.Valid() && it.withinEnd(src.Key()) {
		heap.Push(&it.heap, &head{
			key: append([]byte(nil), src.Key()...),
			vol: src.Volume(),
			typ: typ,
			src: src,
		})
		return true
	}
	if err := src.Err(); err != nil && it.err == nil {
		it.err = err
	}
	_ = src.Close()
	return false
}

// Valid reports whether the iterator is positioned at an entity
func (it *Iterator) Valid() bool {
	if it.err != nil || len(it.heap) == 0 {
		return false
	}
	if it.limit > 0 && it.emitted >= it.limit {
		return false
	}
	return it.withinEnd(it.heap[0].key)
}

// Next consumes the current entity and advances its source
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	top := heap.Pop(&it.heap).(*head)
	top.src.Next()
	it.push(top.typ, top.src)
	it.emitted++
	opMetrics.Add("emitted_total", 1)
}

// Key returns the logical key of the current entity
func (it *Iterator) Key() []byte {
	return it.heap[0].key
}

// Volume returns the size estimate of the current entity
func (it *Iterator) Volume() int64 {
	return it.heap[0].vol
}

// Type returns the collection type of the current entity
func (it *Iterator) Type() store.DataType {
	return it.heap[0].typ
}

// Err returns the first error of any source
func (it *Iterator) Err() error {
	return it.err
}

// Close closes all sources that are still open
func (it *Iterator) Close() error {
	var first error
	for _, h := range it.heap {
		if err := h.src.Close(); err != nil && first == nil {
			first = err
		}
	}
	it.heap = nil
	return first
}
