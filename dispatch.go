package mtcl

import "sync"

// dispatchEvent is the (is-new-connection, handle) pair produced by a
// driver's Update and consumed by exactly one GetNext (C4).
type dispatchEvent struct {
	isNew  bool
	handle *Handle
}

// dispatchQueue is a thread-safe FIFO feeding Manager.GetNext. Producer is
// any driver's Update call (serialized per-driver, interleaved across
// drivers with no ordering guarantee beyond FIFO); consumers are
// application threads calling GetNext.
type dispatchQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	events   []dispatchEvent
	finished bool
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues an event and wakes one blocked consumer.
func (q *dispatchQueue) push(ev dispatchEvent) {
	q.mu.Lock()
	if q.finished {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an event is available or the queue is finished, in
// which case it returns (dispatchEvent{}, false).
func (q *dispatchQueue) pop() (dispatchEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.finished {
		q.cond.Wait()
	}
	if len(q.events) == 0 {
		return dispatchEvent{}, false
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev, true
}

// finish wakes every blocked consumer permanently; subsequent pop calls
// return immediately with ok=false. Called by Manager.Finalize.
func (q *dispatchQueue) finish() {
	q.mu.Lock()
	q.finished = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
