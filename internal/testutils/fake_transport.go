package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/protocol"
)

// FakeTransport implements ports.Transport against a FakeKernel, following
// the real wire choreography: busy status, outputs, idle status on the
// push channel, then the shell reply.
type FakeTransport struct {
	Kernel *FakeKernel

	mu         sync.Mutex
	subs       map[string]chan *protocol.Message
	interrupts []chan struct{}
	pending    bool // interrupt arrived with nothing blocked yet
	closed     bool
	closedCh   chan struct{}

	// Interrupted counts interrupt_request messages observed.
	Interrupted int
	// Shutdown counts shutdown_request messages observed.
	Shutdown int
}

// NewFakeTransport creates a transport backed by a fresh fake kernel.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Kernel:   NewFakeKernel(),
		subs:     make(map[string]chan *protocol.Message),
		closedCh: make(chan struct{}),
	}
}

// Send handles shell-channel requests. Execute requests run the fake
// kernel and publish the usual push sequence before replying.
func (t *FakeTransport) Send(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrDisconnected
	}
	t.mu.Unlock()

	switch msg.Header.Type {
	case protocol.MsgTypeKernelInfoRequest:
		reply := msg.Reply(protocol.MsgTypeKernelInfoReply)
		_ = reply.Encode(protocol.KernelInfoReply{Status: "ok", Implementation: "fake"})
		return reply, nil

	case protocol.MsgTypeExecuteRequest:
		return t.execute(ctx, msg)

	default:
		return nil, errors.New("unexpected shell message " + msg.Header.Type)
	}
}

func (t *FakeTransport) execute(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	var req protocol.ExecuteRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}

	t.push(msg, protocol.MsgTypeStatus, protocol.StatusContent{ExecutionState: "busy"})
	res := t.Kernel.Eval(req.Code)

	if res.Blocks {
		interrupted, release := t.armInterrupt()
		defer release()
		select {
		case <-interrupted:
			res.ErrorName = "KeyboardInterrupt"
			res.ErrorValue = ""
		case <-t.closedCh:
			return nil, domain.ErrDisconnected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if res.Stdout != "" {
		t.push(msg, protocol.MsgTypeStream, protocol.StreamContent{Name: "stdout", Text: res.Stdout})
	}
	if res.Value != "" {
		t.push(msg, protocol.MsgTypeExecuteResult, protocol.ExecuteResultContent{
			ExecutionCount: res.ExecutionCount,
			Data:           map[string]any{"text/plain": res.Value},
		})
	}

	reply := msg.Reply(protocol.MsgTypeExecuteReply)
	if res.ErrorName != "" {
		t.push(msg, protocol.MsgTypeError, protocol.ErrorContent{
			ErrorName:  res.ErrorName,
			ErrorValue: res.ErrorValue,
			Traceback:  []string{res.ErrorName + ": " + res.ErrorValue},
		})
		_ = reply.Encode(protocol.ExecuteReply{
			Status:         "error",
			ExecutionCount: res.ExecutionCount,
			ErrorName:      res.ErrorName,
			ErrorValue:     res.ErrorValue,
		})
	} else {
		_ = reply.Encode(protocol.ExecuteReply{
			Status:         "ok",
			ExecutionCount: res.ExecutionCount,
		})
	}
	t.push(msg, protocol.MsgTypeStatus, protocol.StatusContent{ExecutionState: "idle"})
	return reply, nil
}

// Control handles interrupt and shutdown requests.
func (t *FakeTransport) Control(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrDisconnected
	}

	switch msg.Header.Type {
	case protocol.MsgTypeInterruptRequest:
		t.Interrupted++
		if len(t.interrupts) == 0 {
			// Nothing blocked yet; keep the interrupt so a racing
			// execution still observes it.
			t.pending = true
		}
		for _, ch := range t.interrupts {
			close(ch)
		}
		t.interrupts = nil
		t.mu.Unlock()
		return msg.Reply(protocol.MsgTypeInterruptReply), nil

	case protocol.MsgTypeShutdownRequest:
		t.Shutdown++
		t.mu.Unlock()
		reply := msg.Reply(protocol.MsgTypeShutdownReply)
		_ = reply.Encode(protocol.ShutdownContent{})
		return reply, nil

	default:
		t.mu.Unlock()
		return nil, errors.New("unexpected control message " + msg.Header.Type)
	}
}

// Subscribe returns the push channel for one request ID.
func (t *FakeTransport) Subscribe(requestID string) (<-chan *protocol.Message, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan *protocol.Message, 64)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	t.subs[requestID] = ch
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[requestID]; ok && sub == ch {
			delete(t.subs, requestID)
		}
	}
}

// Alive reports whether Close has been called.
func (t *FakeTransport) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Close seals the transport: subscribers' channels close and pending
// blocked executions fail with ErrDisconnected. Idempotent.
func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closedCh)
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	return nil
}

func (t *FakeTransport) push(parent *protocol.Message, msgType string, content any) {
	msg := parent.Reply(msgType)
	_ = msg.Encode(content)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[parent.Header.ID]; ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (t *FakeTransport) armInterrupt() (<-chan struct{}, func()) {
	ch := make(chan struct{})
	t.mu.Lock()
	if t.pending {
		t.pending = false
		close(ch)
	} else {
		t.interrupts = append(t.interrupts, ch)
	}
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, c := range t.interrupts {
			if c == ch {
				t.interrupts = append(t.interrupts[:i], t.interrupts[i+1:]...)
				return
			}
		}
	}
}
