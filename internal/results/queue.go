// Package results provides the shared output channel of a lookup.
package results

import (
	"sync"

	"github.com/JakeFAU/bookmeta/internal/book"
)

// Queue collects records from many workers and hands them to one consumer.
// It implements book.Sink.
type Queue struct {
	mu      sync.Mutex
	records []book.Record
	notify  chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Put appends a record. Safe for concurrent use.
func (q *Queue) Put(record book.Record) {
	q.mu.Lock()
	q.records = append(q.records, record)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued record in arrival order.
func (q *Queue) Drain() []book.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.records
	q.records = nil
	return out
}

// Len reports the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Ready is signaled after a Put. Signals coalesce, so a consumer should Drain
// once per receive.
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}
