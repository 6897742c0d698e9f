package worker

import "encoding/json"

// Queue is the worker's outbound FIFO. It is owned by the loop goroutine
// and is not safe for concurrent use.
type Queue struct {
	items []json.RawMessage
}

func (q *Queue) PushBack(item json.RawMessage) {
	q.items = append(q.items, item)
}

func (q *Queue) PushFront(item json.RawMessage) {
	q.items = append([]json.RawMessage{item}, q.items...)
}

func (q *Queue) PopFront() (json.RawMessage, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Snapshot copies the queue, head first.
func (q *Queue) Snapshot() []json.RawMessage {
	out := make([]json.RawMessage, len(q.items))
	copy(out, q.items)
	return out
}
