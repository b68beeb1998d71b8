package watcher

import (
	"sync"
	"time"
)

// Queue is an unbounded FIFO of events, safe for one or more producers and a
// single consumer.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Put never blocks.
func (q *Queue) Put(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Get removes the head of the queue, waiting up to timeout for one to arrive.
// ok is false when the queue stayed empty.
func (q *Queue) Get(timeout time.Duration) (e Event, ok bool) {
	if e, ok = q.pop(); ok {
		return e, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if e, ok = q.pop(); ok {
				return e, true
			}
		case <-timer.C:
			return q.pop()
		}
	}
}

func (q *Queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	e := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain empties the queue and returns the number of discarded events.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
