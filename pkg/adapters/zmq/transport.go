// Package zmq implements the kernel transport over ZeroMQ: a DEALER socket
// each for the shell and control request/reply channels and a SUB socket
// for the IOPub push feed, demultiplexed by parent request ID.
package zmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	zmqlib "github.com/pebbe/zmq4"

	"github.com/aretw0/kiln/internal/logging"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/protocol"
)

const pollInterval = 100 * time.Millisecond

// Transport implements ports.Transport against a live kernel.
type Transport struct {
	key    []byte
	logger *slog.Logger

	shell   *zmqlib.Socket
	control *zmqlib.Socket
	iopub   *zmqlib.Socket

	shellSend   chan *protocol.Message
	controlSend chan *protocol.Message

	mu      sync.Mutex
	pending map[string]chan *protocol.Message
	subs    map[string]*pushQueue

	closed    chan struct{}
	closeOnce sync.Once
}

// Option configures the transport.
type Option func(*Transport)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Dial connects the shell, control and IOPub sockets described by the
// connection info and starts the demultiplexing loops. On failure every
// socket created so far is closed before the error is returned.
func Dial(ctx context.Context, info *protocol.ConnectionInfo, opts ...Option) (*Transport, error) {
	t := &Transport{
		key:         []byte(info.Key),
		logger:      logging.NewNop(),
		shellSend:   make(chan *protocol.Message),
		controlSend: make(chan *protocol.Message),
		pending:     make(map[string]chan *protocol.Message),
		subs:        make(map[string]*pushQueue),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	var err error
	if t.shell, err = dealer(info.Addr(info.ShellPort)); err != nil {
		t.closeSockets()
		return nil, fmt.Errorf("dialing shell channel: %w", err)
	}
	if t.control, err = dealer(info.Addr(info.ControlPort)); err != nil {
		t.closeSockets()
		return nil, fmt.Errorf("dialing control channel: %w", err)
	}
	if t.iopub, err = subscriber(info.Addr(info.IOPubPort)); err != nil {
		t.closeSockets()
		return nil, fmt.Errorf("dialing iopub channel: %w", err)
	}

	go t.requestLoop(t.shell, t.shellSend)
	go t.requestLoop(t.control, t.controlSend)
	go t.iopubLoop()
	return t, nil
}

// Send submits a request on the shell channel and waits for its reply.
func (t *Transport) Send(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	return t.request(ctx, msg, t.shellSend)
}

// Control submits a request on the control channel and waits for its reply.
func (t *Transport) Control(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	return t.request(ctx, msg, t.controlSend)
}

func (t *Transport) request(ctx context.Context, msg *protocol.Message, sendCh chan *protocol.Message) (*protocol.Message, error) {
	replyCh := make(chan *protocol.Message, 1)

	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return nil, domain.ErrDisconnected
	default:
	}
	t.pending[msg.Header.ID] = replyCh
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, msg.Header.ID)
		t.mu.Unlock()
	}()

	select {
	case sendCh <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, domain.ErrDisconnected
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, domain.ErrDisconnected
	}
}

// Subscribe returns the push messages whose parent request matches
// requestID. Delivery is buffered without bound so the IOPub loop never
// blocks on a slow consumer.
func (t *Transport) Subscribe(requestID string) (<-chan *protocol.Message, func()) {
	q := newPushQueue()

	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		q.close()
		return q.out, func() {}
	default:
	}
	t.subs[requestID] = q
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if t.subs[requestID] == q {
			delete(t.subs, requestID)
		}
		t.mu.Unlock()
		q.close()
	}
	return q.out, cancel
}

// Alive reports whether the transport has not been closed.
func (t *Transport) Alive() bool {
	select {
	case <-t.closed:
		return false
	default:
		return true
	}
}

// Close releases the sockets. Pending Send and Control calls unblock with
// ErrDisconnected; subscription channels are closed. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)

		t.mu.Lock()
		subs := t.subs
		t.subs = make(map[string]*pushQueue)
		t.mu.Unlock()
		for _, q := range subs {
			q.close()
		}
	})
	return nil
}

// requestLoop owns one request/reply socket: it writes queued requests and
// routes replies to their waiters. ZeroMQ sockets are not thread-safe, so
// all socket access happens on this goroutine.
func (t *Transport) requestLoop(socket *zmqlib.Socket, sendCh chan *protocol.Message) {
	defer socket.Close()

	poller := zmqlib.NewPoller()
	poller.Add(socket, zmqlib.POLLIN)

	for {
		select {
		case <-t.closed:
			return
		case msg := <-sendCh:
			parts, err := protocol.Serialize(msg, t.key)
			if err != nil {
				t.logger.Warn("dropping unserializable request", "type", msg.Header.Type, "err", err)
				continue
			}
			if _, err := socket.SendMessage(parts); err != nil {
				t.logger.Warn("request send failed", "type", msg.Header.Type, "err", err)
				continue
			}
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			select {
			case <-t.closed:
			default:
				t.logger.Warn("poll failed", "err", err)
			}
			return
		}
		if len(polled) == 0 {
			continue
		}

		parts, err := socket.RecvMessage(0)
		if err != nil {
			continue
		}
		reply, err := protocol.Deserialize(parts, t.key)
		if err != nil {
			t.logger.Warn("discarding malformed reply", "err", err)
			continue
		}
		t.deliverReply(reply)
	}
}

func (t *Transport) deliverReply(reply *protocol.Message) {
	t.mu.Lock()
	ch, ok := t.pending[reply.ParentHeader.ID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("reply without waiter", "type", reply.Header.Type, "parent", reply.ParentHeader.ID)
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

// iopubLoop drains the SUB socket and fans push messages out to the
// subscriber matching their parent request ID. Exact multiplexing: a push
// for request A is never handed to a subscriber on request B.
func (t *Transport) iopubLoop() {
	defer t.iopub.Close()

	poller := zmqlib.NewPoller()
	poller.Add(t.iopub, zmqlib.POLLIN)

	for {
		select {
		case <-t.closed:
			return
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			return
		}
		if len(polled) == 0 {
			continue
		}

		parts, err := t.iopub.RecvMessage(0)
		if err != nil {
			continue
		}
		msg, err := protocol.Deserialize(parts, t.key)
		if err != nil {
			t.logger.Warn("discarding malformed push", "err", err)
			continue
		}

		t.mu.Lock()
		q, ok := t.subs[msg.ParentHeader.ID]
		t.mu.Unlock()
		if ok {
			q.push(msg)
		}
	}
}

func (t *Transport) closeSockets() {
	for _, s := range []*zmqlib.Socket{t.shell, t.control, t.iopub} {
		if s != nil {
			_ = s.Close()
		}
	}
}

func dealer(addr string) (*zmqlib.Socket, error) {
	socket, err := zmqlib.NewSocket(zmqlib.DEALER)
	if err != nil {
		return nil, err
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, err
	}
	if err := socket.Connect(addr); err != nil {
		socket.Close()
		return nil, err
	}
	return socket, nil
}

func subscriber(addr string) (*zmqlib.Socket, error) {
	socket, err := zmqlib.NewSocket(zmqlib.SUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, err
	}
	if err := socket.SetSubscribe(""); err != nil {
		socket.Close()
		return nil, err
	}
	if err := socket.Connect(addr); err != nil {
		socket.Close()
		return nil, err
	}
	return socket, nil
}
