package events

import "sync"

type message struct {
	Kind string
	Data []byte
}

// queue is an unbounded FIFO guarded by a mutex. It decouples event
// producers from however long the writer takes.
type queue struct {
	lock sync.Mutex
	msgs []*message
}

func newQueue() *queue {
	return &queue{}
}

func (q *queue) PushBack(msg *message) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.msgs = append(q.msgs, msg)
}

func (q *queue) Pop() *message {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.msgs) == 0 {
		return nil
	}
	msg := q.msgs[0]
	q.msgs = q.msgs[1:]
	return msg
}

func (q *queue) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.msgs)
}
