package scheduler

import (
	"container/heap"
	"sync"

	"github.com/campuscode/harvest/pkg/core"
)

// requestQueue is a concurrency-safe priority queue of collection requests.
// High priority drains before low; within a priority, requests drain in
// arrival order. Duplicate submissions for the same entity are allowed —
// the drain step's skip-if-running check is the dedup point.
//
// The queue lives only in process memory. A crash drops queued requests;
// they come back through the next external trigger or sweep.
type requestQueue struct {
	mu   sync.Mutex
	heap requestHeap
	seq  uint64
}

func newRequestQueue() *requestQueue {
	return &requestQueue{}
}

// push inserts a request.
func (q *requestQueue) push(req core.JobRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.heap, queuedRequest{JobRequest: req, seq: q.seq})
}

// pop removes and returns the highest-priority, earliest request, or nil
// when the queue is empty.
func (q *requestQueue) pop() *core.JobRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(queuedRequest)
	return &item.JobRequest
}

// len returns the current queue depth.
func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// queuedRequest tags a request with an insertion sequence so equal
// timestamps still drain in arrival order.
type queuedRequest struct {
	core.JobRequest
	seq uint64
}

// requestHeap implements heap.Interface with an explicit two-level
// comparator: priority first, then requested time, then insertion order.
type requestHeap []queuedRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if !h[i].RequestedAt.Equal(h[j].RequestedAt) {
		return h[i].RequestedAt.Before(h[j].RequestedAt)
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) {
	*h = append(*h, x.(queuedRequest))
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
