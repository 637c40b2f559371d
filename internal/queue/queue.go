// Package queue holds outbound messages waiting for transmit budget.
package queue

import (
	"errors"
	"sync"
	"time"
)

var ErrFull = errors.New("queue full of urgent items")

type Item struct {
	Payload  []byte
	Urgent   bool
	QueuedAt time.Time
}

// Queue pops urgent items before normal ones, FIFO within each class.
// When full, the oldest normal item is dropped to make room.
type Queue struct {
	mu      sync.Mutex
	max     int
	urgent  []Item
	normal  []Item
	dropped uint64
}

func New(max int) *Queue {
	if max <= 0 {
		max = 1
	}
	return &Queue{max: max}
}

func (q *Queue) Push(it Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.len() >= q.max {
		if len(q.normal) == 0 {
			q.dropped++
			return ErrFull
		}
		q.normal = q.normal[1:]
		q.dropped++
		if !it.Urgent {
			q.normal = append(q.normal, it)
			return nil
		}
	}
	if it.Urgent {
		q.urgent = append(q.urgent, it)
	} else {
		q.normal = append(q.normal, it)
	}
	return nil
}

// Pop removes up to n items, urgent first.
func (q *Queue) Pop(n int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || q.len() == 0 {
		return nil
	}
	out := make([]Item, 0, min(n, q.len()))
	k := min(n, len(q.urgent))
	out = append(out, q.urgent[:k]...)
	q.urgent = q.urgent[k:]

	k = min(n-len(out), len(q.normal))
	out = append(out, q.normal[:k]...)
	q.normal = q.normal[k:]
	return out
}

// Requeue puts items back at the front of their class, preserving order.
// Items beyond capacity are dropped.
func (q *Queue) Requeue(items []Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var u, n []Item
	for _, it := range items {
		if it.Urgent {
			u = append(u, it)
		} else {
			n = append(n, it)
		}
	}
	q.urgent = append(u, q.urgent...)
	q.normal = append(n, q.normal...)
	for q.len() > q.max {
		q.dropped++
		if len(q.normal) > 0 {
			q.normal = q.normal[:len(q.normal)-1]
		} else {
			q.urgent = q.urgent[:len(q.urgent)-1]
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len()
}

func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) len() int { return len(q.urgent) + len(q.normal) }
