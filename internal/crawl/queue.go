package crawl

import "sync"

// requestQueue is the mutable, exclusively worker-owned request queue behind
// one domain's traversal. Multiple fetch goroutines inside the worker pull
// from it concurrently; next blocks while siblings are still in flight since
// any of them may discover more work.
type requestQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []Request
	inflight int
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends requests and wakes waiting consumers.
func (q *requestQueue) push(reqs ...Request) {
	if len(reqs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, reqs...)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// next pops the oldest request, blocking while the queue is empty but other
// requests are still in flight. It returns false once the queue is empty and
// nothing in flight can replenish it: the traversal is complete.
func (q *requestQueue) next() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.inflight == 0 {
			return Request{}, false
		}
		q.cond.Wait()
	}
	req := q.items[0]
	q.items = q.items[1:]
	q.inflight++
	return req, true
}

// done marks one request as fully handled.
func (q *requestQueue) done() {
	q.mu.Lock()
	q.inflight--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// pending reports queued plus in-flight requests.
func (q *requestQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.inflight
}
