package queue

import "container/list"

// FIFO is the pending-job queue. Ids are unique within the queue; enqueuing an
// id that is already present moves it to the tail. FIFO is not safe for
// concurrent use; the scheduler guards it with its own lock.
type FIFO struct {
	order *list.List
	index map[string]*list.Element
}

// NewFIFO returns an empty queue.
func NewFIFO() *FIFO {
	return &FIFO{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Enqueue appends id at the tail.
func (q *FIFO) Enqueue(id string) {
	if el, ok := q.index[id]; ok {
		q.order.Remove(el)
	}
	q.index[id] = q.order.PushBack(id)
}

// Dequeue pops the head. ok is false when the queue is empty.
func (q *FIFO) Dequeue() (string, bool) {
	el := q.order.Front()
	if el == nil {
		return "", false
	}
	id := q.order.Remove(el).(string)
	delete(q.index, id)
	return id, true
}

// Cancel removes id wherever it sits and reports whether it was queued.
func (q *FIFO) Cancel(id string) bool {
	el, ok := q.index[id]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.index, id)
	return true
}

// Contains reports whether id is waiting.
func (q *FIFO) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// Position returns the 1-based position of id, or 0 when absent.
func (q *FIFO) Position(id string) int {
	if _, ok := q.index[id]; !ok {
		return 0
	}
	pos := 1
	for el := q.order.Front(); el != nil; el = el.Next() {
		if el.Value.(string) == id {
			return pos
		}
		pos++
	}
	return 0
}

// Depth returns the number of waiting ids.
func (q *FIFO) Depth() int {
	return q.order.Len()
}
