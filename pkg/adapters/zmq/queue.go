package zmq

import (
	"sync"

	"github.com/aretw0/kiln/pkg/protocol"
)

// pushQueue is an unbounded FIFO feeding one subscription channel.
// The producer (iopub loop) never blocks; messages are buffered until the
// consumer drains them, preserving per-request emission order. Closing the
// queue also unsticks the pump if the consumer stopped reading.
type pushQueue struct {
	mu     sync.Mutex
	buf    []*protocol.Message
	closed bool

	wake chan struct{}
	stop chan struct{}
	out  chan *protocol.Message
}

func newPushQueue() *pushQueue {
	q := &pushQueue{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		out:  make(chan *protocol.Message),
	}
	go q.pump()
	return q
}

func (q *pushQueue) push(msg *protocol.Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, msg)
	q.mu.Unlock()
	q.signal()
}

func (q *pushQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()
	q.signal()
}

func (q *pushQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *pushQueue) pump() {
	for {
		q.mu.Lock()
		batch := q.buf
		q.buf = nil
		done := q.closed
		q.mu.Unlock()

		for _, msg := range batch {
			select {
			case q.out <- msg:
			case <-q.stop:
				close(q.out)
				return
			}
		}
		if done {
			close(q.out)
			return
		}
		select {
		case <-q.wake:
		case <-q.stop:
		}
	}
}
