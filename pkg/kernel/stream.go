package kernel

import (
	"sync"

	"github.com/aretw0/kiln/pkg/domain"
)

// CellStream is a push-based sequence of cell snapshots for one execution.
//
// Every emission is a full accumulated deep copy of the cell, not a delta,
// so consumers may retain snapshots. The channel closes after the terminal
// snapshot; Err reports whether the stream ended because of a transport or
// cancellation failure instead of a terminal cell state.
//
// Delivery is buffered without bound: the producer never blocks on a slow
// consumer and no snapshot is dropped. A consumer that walks away without
// draining Snapshots must call Close; disposing the session also releases
// every pending stream.
type CellStream struct {
	mu     sync.Mutex
	buf    []*domain.Cell
	last   *domain.Cell
	err    error
	closed bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	out      chan *domain.Cell

	// release unsticks delivery when the owning session is disposed.
	release <-chan struct{}
}

func newCellStream(release <-chan struct{}) *CellStream {
	s := &CellStream{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		out:     make(chan *domain.Cell),
		release: release,
	}
	go s.pump()
	return s
}

// Close abandons the stream without draining it, releasing the delivery
// goroutine. Draining Snapshots to completion makes Close unnecessary;
// calling it afterwards is a no-op. Idempotent.
func (s *CellStream) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Snapshots returns the ordered snapshot channel. It closes once the cell
// reaches a terminal state or the stream fails; check Err afterwards.
func (s *CellStream) Snapshots() <-chan *domain.Cell {
	return s.out
}

// Err returns the stream failure, if any. Valid once Snapshots is closed.
func (s *CellStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cell returns the most recent snapshot. Valid once Snapshots is closed,
// at which point it is the terminal snapshot (or the last one seen before
// a failure).
func (s *CellStream) Cell() *domain.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// emit queues a deep copy of the cell for delivery.
func (s *CellStream) emit(c *domain.Cell) {
	cp := c.Clone()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, cp)
	s.last = cp
	s.mu.Unlock()
	s.signal()
}

// closeWith seals the stream. A nil err means the cell reached a terminal
// state; otherwise the execution failed before one was observed.
func (s *CellStream) closeWith(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()
	s.signal()
}

func (s *CellStream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *CellStream) pump() {
	for {
		s.mu.Lock()
		batch := s.buf
		s.buf = nil
		done := s.closed
		s.mu.Unlock()

		for _, c := range batch {
			select {
			case s.out <- c:
			case <-s.stop:
				close(s.out)
				return
			case <-s.release:
				s.awaitSealed()
				return
			}
		}
		if done {
			close(s.out)
			return
		}
		select {
		case <-s.wake:
		case <-s.stop:
			close(s.out)
			return
		case <-s.release:
			s.awaitSealed()
			return
		}
	}
}

// awaitSealed stops delivering but keeps the channel open until closeWith
// seals the stream, so a consumer draining across a session dispose still
// observes Err once the channel closes.
func (s *CellStream) awaitSealed() {
	for {
		s.mu.Lock()
		s.buf = nil
		done := s.closed
		s.mu.Unlock()
		if done {
			close(s.out)
			return
		}
		<-s.wake
	}
}
