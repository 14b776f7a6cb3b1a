package spider

import "container/heap"

// frontierItem is one queued URL.
type frontierItem struct {
	url       string
	depth     int
	source    string
	discovery int // monotonic discovery order
}

type frontierHeap []*frontierItem

func (h frontierHeap) Len() int { return len(h) }

// best-effort BFS: depth ascending, ties by discovery order
func (h frontierHeap) Less(i, j int) bool {
	if h[i].depth != h[j].depth {
		return h[i].depth < h[j].depth
	}
	return h[i].discovery < h[j].discovery
}

func (h frontierHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frontierHeap) Push(x any) { *h = append(*h, x.(*frontierItem)) }

func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// frontier is a priority queue deduplicated by canonical URL.
type frontier struct {
	heap    frontierHeap
	seen    map[string]bool
	counter int
}

func newFrontier() *frontier {
	f := &frontier{seen: make(map[string]bool)}
	heap.Init(&f.heap)
	return f
}

// push enqueues a canonical URL once; repeats are ignored.
func (f *frontier) push(canonical string, depth int, source string) bool {
	if f.seen[canonical] {
		return false
	}
	f.seen[canonical] = true
	heap.Push(&f.heap, &frontierItem{
		url:       canonical,
		depth:     depth,
		source:    source,
		discovery: f.counter,
	})
	f.counter++
	return true
}

func (f *frontier) pop() (*frontierItem, bool) {
	if f.heap.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&f.heap).(*frontierItem), true
}

func (f *frontier) len() int {
	return f.heap.Len()
}
