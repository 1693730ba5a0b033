package typing

import (
	"sync"

	"github.com/google/uuid"
)

// Unit is the smallest piece of decoded text revealed per tick, tagged with the
// conversation entry it belongs to.
type Unit struct {
	EntryID uuid.UUID
	Text    string
}

// Queue is the FIFO backlog between the network reader and the reveal ticker.
// Units are appended at the tail and removed at the head; nothing else reorders
// or drops them apart from Clear.
type Queue struct {
	mu    sync.Mutex
	units []Unit
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(units ...Unit) {
	if len(units) == 0 {
		return
	}
	q.mu.Lock()
	q.units = append(q.units, units...)
	q.mu.Unlock()
}

// Pop removes and returns the unit at the head.
func (q *Queue) Pop() (Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.units) == 0 {
		return Unit{}, false
	}
	u := q.units[0]
	q.units[0] = Unit{}
	q.units = q.units[1:]
	if len(q.units) == 0 {
		// Release the backing array once drained.
		q.units = nil
	}
	return u, true
}

// Len is the current backlog.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// Clear abandons the backlog and returns how many units were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.units)
	q.units = nil
	return n
}
