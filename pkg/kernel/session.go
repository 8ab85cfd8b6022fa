package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aretw0/kiln/internal/logging"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/aretw0/kiln/pkg/protocol"
	"github.com/google/uuid"
)

// errRestarted terminates an in-flight execution when the kernel is restarted.
var errRestarted = errors.New("kernel restarted")

// errClosed terminates an in-flight execution when the session is disposed.
var errClosed = errors.New("session closed")

// Connection bundles the live resources backing one kernel incarnation.
type Connection struct {
	Transport ports.Transport
	Process   ports.Process

	// ConnectionFile is removed when the incarnation is torn down.
	ConnectionFile string

	Info *protocol.ConnectionInfo
}

// Connector establishes a fresh kernel incarnation: spawned process plus
// dialed transport. It is invoked on connect and again on every restart.
// On failure it must tear down anything it partially constructed.
type Connector func(ctx context.Context) (*Connection, error)

// Session is one live connection to a kernel process. It owns its transport
// exclusively; the transport's lifetime equals the current incarnation's.
//
// Lifecycle: Created -> Connected(Idle) <-> Connected(Busy) -> Disconnected.
// RestartKernel is a self-loop on Connected that replaces the process and
// transport while keeping this handle. InterruptKernel never changes the
// session state; it only signals the subordinate execution.
type Session struct {
	id          string
	env         domain.Environment
	wireSession string

	connect Connector
	hooks   domain.LifecycleHooks
	logger  *slog.Logger
	store   ports.StateStore

	// execMu serializes code submission and restart, giving restart its
	// happens-before edge over later executions.
	execMu sync.Mutex

	mu          sync.Mutex
	conn        *Connection
	incarnation int
	status      domain.KernelStatus
	listeners   []func(domain.KernelStatus)
	idleWaiters []chan struct{}
	execCancel  context.CancelCauseFunc
	record      *domain.SessionRecord
	closed      bool
	done        chan struct{}
}

// New connects a session by invoking the connector once. The returned
// session is Connected(Idle) and ready to execute.
func New(ctx context.Context, env domain.Environment, connect Connector, opts ...Option) (*Session, error) {
	s := &Session{
		id:          uuid.NewString(),
		env:         env,
		wireSession: uuid.NewString(),
		connect:     connect,
		logger:      logging.NewNop(),
		status:      domain.KernelIdle,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	conn, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.watch(conn, 0)

	if s.store != nil {
		s.record = domain.NewSessionRecord(s.id, env)
		s.saveRecord()
	}
	s.logger.Debug("kernel session connected", "session", s.id, "environment", env.String())
	return s, nil
}

// ID returns the opaque session handle, unique per connect.
func (s *Session) ID() string { return s.id }

// Environment returns the environment the session was connected against.
func (s *Session) Environment() domain.Environment { return s.env }

// Status returns the current kernel status.
func (s *Session) Status() domain.KernelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Record returns a copy of the persisted session record, or nil when the
// session runs without a store.
func (s *Session) Record() *domain.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil
	}
	return s.record.Clone()
}

// OnStatusChanged registers a listener invoked on every status transition.
// Multiple listeners are allowed; no ordering is guaranteed between them.
func (s *Session) OnStatusChanged(fn func(domain.KernelStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// WaitForIdle blocks until the kernel reports Idle. If the session is
// already idle it returns immediately without side effects.
func (s *Session) WaitForIdle(ctx context.Context) error {
	s.mu.Lock()
	if s.status == domain.KernelIdle {
		s.mu.Unlock()
		return nil
	}
	if s.closed {
		s.mu.Unlock()
		return domain.ErrDisconnected
	}
	ch := make(chan struct{})
	s.idleWaiters = append(s.idleWaiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteStream submits code for execution and returns the snapshot stream.
// The caller reacts to partial output by draining Snapshots; the terminal
// element carries the cell in state Finished or Error. The session imposes
// no timeout of its own: interruption is the caller's responsibility.
func (s *Session) ExecuteStream(ctx context.Context, code, file string, line int) *CellStream {
	return s.ExecuteCell(ctx, domain.NewCell(domain.CellKindCode, code, file, line))
}

// Execute submits code and blocks until the cell reaches a terminal state,
// returning the terminal snapshot. Cell-level errors are data on the cell,
// not a returned error; the error return covers transport failure and
// cancellation.
func (s *Session) Execute(ctx context.Context, code, file string, line int) (*domain.Cell, error) {
	stream := s.ExecuteStream(ctx, code, file, line)
	var last *domain.Cell
	for snap := range stream.Snapshots() {
		last = snap
	}
	if err := stream.Err(); err != nil {
		return last, err
	}
	return last, nil
}

// ExecuteCell runs one cell through the session. Markdown cells are
// rendered locally and skip the kernel round trip entirely.
func (s *Session) ExecuteCell(ctx context.Context, cell *domain.Cell) *CellStream {
	if cell.ID == "" {
		cell.ID = uuid.NewString()
	}
	cell.State = domain.CellStateInit
	stream := newCellStream(s.done)
	stream.emit(cell)
	go s.run(ctx, cell, stream)
	return stream
}

// InterruptKernel sends an interrupt signal to the running kernel without
// touching the session's connection state. Calling it with no execution in
// flight is a successful no-op (the kernel acknowledges and nothing else
// happens). Failures are returned, not thrown: callers routinely retry.
func (s *Session) InterruptKernel(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		return domain.ErrDisconnected
	}
	conn := s.conn
	s.mu.Unlock()

	req := protocol.New(protocol.MsgTypeInterruptRequest, s.wireSession)
	if _, err := conn.Transport.Control(ctx, req); err != nil {
		return fmt.Errorf("interrupt request: %w", err)
	}
	s.logger.Debug("kernel interrupted", "session", s.id)
	return nil
}

// RestartKernel tears down the current kernel process and transport and
// connects a fresh incarnation under the same session handle. Any execution
// in flight terminates as an Error cell rather than hanging, and no
// execution submitted after RestartKernel returns can land on the old
// incarnation. In-memory kernel state (variables) is lost by design.
func (s *Session) RestartKernel(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrDisconnected
	}
	if s.execCancel != nil {
		s.execCancel(errRestarted)
	}
	s.mu.Unlock()

	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	old := s.conn
	s.conn = nil
	s.incarnation++
	gen := s.incarnation
	s.mu.Unlock()

	teardown(old, s.wireSession, true)

	conn, err := s.connect(ctx)
	if err != nil {
		s.setStatus(domain.KernelDisconnected)
		s.saveRecord()
		return fmt.Errorf("restarting kernel: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		teardown(conn, s.wireSession, false)
		return domain.ErrDisconnected
	}
	s.conn = conn
	if s.record != nil {
		s.record.Restarts++
	}
	s.mu.Unlock()

	s.watch(conn, gen)
	s.setStatus(domain.KernelIdle)
	s.saveRecord()
	s.logger.Debug("kernel restarted", "session", s.id, "incarnation", gen)
	return nil
}

// Close disposes the session: the transport is released, the process is
// shut down and any pending execution streams terminate via error rather
// than hang. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.execCancel
	conn := s.conn
	s.conn = nil
	close(s.done)
	s.mu.Unlock()

	if cancel != nil {
		cancel(errClosed)
	}
	teardown(conn, s.wireSession, false)
	s.setStatus(domain.KernelDisconnected)
	s.saveRecord()
	s.logger.Debug("kernel session closed", "session", s.id)
	return nil
}

// run drives one cell to its terminal state.
func (s *Session) run(ctx context.Context, cell *domain.Cell, stream *CellStream) {
	if cell.Kind == domain.CellKindMarkdown {
		cell.Outputs = append(cell.Outputs, domain.Output{
			Kind: domain.OutputDisplayData,
			Data: domain.MimeBundle{"text/markdown": cell.Source},
		})
		cell.State = domain.CellStateFinished
		s.fireCellFinish(ctx, cell)
		s.appendRecord(cell)
		stream.emit(cell)
		stream.closeWith(nil)
		return
	}

	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		s.finalizeError(ctx, cell, stream, "Disconnected", "session is not connected", domain.ErrDisconnected)
		return
	}
	conn := s.conn
	gen := s.incarnation
	execCtx, cancel := context.WithCancelCause(ctx)
	s.execCancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel(nil)
		s.mu.Lock()
		s.execCancel = nil
		s.mu.Unlock()
	}()

	req := protocol.New(protocol.MsgTypeExecuteRequest, s.wireSession)
	if err := req.Encode(protocol.ExecuteRequest{
		Code:            cell.Source,
		StoreHistory:    true,
		UserExpressions: map[string]string{},
		StopOnError:     true,
	}); err != nil {
		s.finalizeError(ctx, cell, stream, "ProtocolError", err.Error(), err)
		return
	}

	pushes, unsubscribe := conn.Transport.Subscribe(req.Header.ID)
	defer unsubscribe()

	cell.State = domain.CellStateExecuting
	s.setStatusIfGen(gen, domain.KernelBusy)
	s.fireCellStart(execCtx, cell)
	stream.emit(cell)

	type sendResult struct {
		reply *protocol.Message
		err   error
	}
	replyCh := make(chan sendResult, 1)
	go func() {
		reply, err := conn.Transport.Send(execCtx, req)
		replyCh <- sendResult{reply, err}
	}()

	var reply *protocol.ExecuteReply
	sawIdle := false

	// Terminal condition: the shell reply arrived and the kernel reported
	// idle for this request on the push channel.
	for reply == nil || !sawIdle {
		select {
		case <-execCtx.Done():
			s.abort(execCtx, gen, cell, stream, context.Cause(execCtx))
			return
		case msg, ok := <-pushes:
			if !ok {
				s.abort(execCtx, gen, cell, stream, domain.ErrDisconnected)
				return
			}
			if s.applyPush(execCtx, cell, msg, &sawIdle) {
				stream.emit(cell)
			}
		case res := <-replyCh:
			if res.err != nil {
				s.abort(execCtx, gen, cell, stream, res.err)
				return
			}
			var er protocol.ExecuteReply
			if err := res.reply.Decode(&er); err != nil {
				s.abort(execCtx, gen, cell, stream, err)
				return
			}
			reply = &er
		}
	}

	cell.ExecutionCount = reply.ExecutionCount
	if reply.Status == "ok" {
		cell.State = domain.CellStateFinished
	} else {
		cell.State = domain.CellStateError
		if cell.ErrorOutput() == nil {
			cell.Outputs = append(cell.Outputs, domain.Output{
				Kind:       domain.OutputError,
				ErrorName:  reply.ErrorName,
				ErrorValue: reply.ErrorValue,
				Traceback:  append([]string(nil), reply.Traceback...),
			})
		}
	}
	s.setStatusIfGen(gen, domain.KernelIdle)
	s.fireCellFinish(execCtx, cell)
	s.appendRecord(cell)
	stream.emit(cell)
	stream.closeWith(nil)
}

// applyPush folds one push message into the cell. Returns true when the
// cell changed and a snapshot should be emitted.
func (s *Session) applyPush(ctx context.Context, cell *domain.Cell, msg *protocol.Message, sawIdle *bool) bool {
	switch msg.Header.Type {
	case protocol.MsgTypeStatus:
		var sc protocol.StatusContent
		if err := msg.Decode(&sc); err != nil {
			return false
		}
		if sc.ExecutionState == "idle" {
			*sawIdle = true
		}
		return false

	case protocol.MsgTypeExecuteInput:
		return false

	case protocol.MsgTypeStream:
		var sc protocol.StreamContent
		if err := msg.Decode(&sc); err != nil {
			return false
		}
		cell.Outputs = append(cell.Outputs, domain.Output{
			Kind:       domain.OutputStream,
			StreamName: sc.Name,
			Data:       domain.MimeBundle{"text/plain": sc.Text},
		})

	case protocol.MsgTypeDisplayData:
		var dc protocol.DisplayDataContent
		if err := msg.Decode(&dc); err != nil {
			return false
		}
		cell.Outputs = append(cell.Outputs, domain.Output{
			Kind: domain.OutputDisplayData,
			Data: protocol.Bundle(dc.Data),
		})

	case protocol.MsgTypeExecuteResult:
		var rc protocol.ExecuteResultContent
		if err := msg.Decode(&rc); err != nil {
			return false
		}
		cell.ExecutionCount = rc.ExecutionCount
		cell.Outputs = append(cell.Outputs, domain.Output{
			Kind: domain.OutputExecuteResult,
			Data: protocol.Bundle(rc.Data),
		})

	case protocol.MsgTypeError:
		var ec protocol.ErrorContent
		if err := msg.Decode(&ec); err != nil {
			return false
		}
		cell.Outputs = append(cell.Outputs, domain.Output{
			Kind:       domain.OutputError,
			ErrorName:  ec.ErrorName,
			ErrorValue: ec.ErrorValue,
			Traceback:  append([]string(nil), ec.Traceback...),
		})

	default:
		return false
	}

	s.fireCellOutput(ctx, cell)
	return true
}

// abort settles an execution that cannot reach its natural terminal state.
// Restart, dispose and transport loss force the cell into Error (the
// liveness guarantee); caller-side cancellation leaves the cell as-is and
// fails the stream, since the kernel may still complete the work.
func (s *Session) abort(ctx context.Context, gen int, cell *domain.Cell, stream *CellStream, cause error) {
	switch {
	case errors.Is(cause, errRestarted):
		s.finalizeError(ctx, cell, stream, "KernelRestarted", "execution aborted by kernel restart", nil)
	case errors.Is(cause, errClosed):
		s.finalizeError(ctx, cell, stream, "Disconnected", "session was disposed", domain.ErrDisconnected)
	case errors.Is(cause, domain.ErrDisconnected):
		s.finalizeError(ctx, cell, stream, "Disconnected", "kernel connection lost", domain.ErrDisconnected)
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		stream.closeWith(cause)
		// The subscription is dropped, so this request's idle report will
		// never be observed. Return to Idle instead of staying Busy with
		// nothing in flight.
		s.setStatusIfGen(gen, domain.KernelIdle)
	default:
		s.finalizeError(ctx, cell, stream, "TransportError", cause.Error(), cause)
	}
}

// finalizeError forces the cell into the Error terminal state and seals the
// stream. A nil streamErr means the caller should treat the outcome as a
// normal (data-level) cell error.
func (s *Session) finalizeError(ctx context.Context, cell *domain.Cell, stream *CellStream, name, value string, streamErr error) {
	if !cell.State.Terminal() {
		cell.State = domain.CellStateError
		cell.Outputs = append(cell.Outputs, domain.Output{
			Kind:       domain.OutputError,
			ErrorName:  name,
			ErrorValue: value,
		})
		s.fireCellFinish(ctx, cell)
		s.appendRecord(cell)
		stream.emit(cell)
	}
	stream.closeWith(streamErr)
}

// watch fails the session when the backing process of the given
// incarnation exits unexpectedly.
func (s *Session) watch(conn *Connection, gen int) {
	if conn == nil || conn.Process == nil {
		return
	}
	go func() {
		select {
		case <-conn.Process.Done():
		case <-s.done:
			return
		}

		s.mu.Lock()
		if s.closed || s.incarnation != gen || s.conn != conn {
			s.mu.Unlock()
			return
		}
		cancel := s.execCancel
		s.conn = nil
		s.mu.Unlock()

		s.logger.Warn("kernel process exited unexpectedly",
			"session", s.id,
			"err", conn.Process.Err(),
			"stderr", conn.Process.Stderr(),
		)
		if cancel != nil {
			cancel(domain.ErrDisconnected)
		}
		if conn.Transport != nil {
			_ = conn.Transport.Close()
		}
		if conn.ConnectionFile != "" {
			_ = os.Remove(conn.ConnectionFile)
		}
		s.setStatus(domain.KernelDisconnected)
		s.saveRecord()
	}()
}

// setStatus transitions the kernel status and notifies listeners, waiters
// and hooks. No-op when the status is unchanged.
func (s *Session) setStatus(st domain.KernelStatus) {
	s.mu.Lock()
	if s.status == st {
		s.mu.Unlock()
		return
	}
	s.status = st
	listeners := append([]func(domain.KernelStatus){}, s.listeners...)
	var waiters []chan struct{}
	if st == domain.KernelIdle {
		waiters = s.idleWaiters
		s.idleWaiters = nil
	}
	if s.record != nil {
		s.record.Status = st
	}
	s.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	for _, fn := range listeners {
		fn(st)
	}
	if s.hooks.OnStatusChange != nil {
		s.hooks.OnStatusChange(context.Background(), &domain.StatusEvent{
			Timestamp: time.Now().UTC(),
			SessionID: s.id,
			Status:    st,
		})
	}
}

// setStatusIfGen applies a status change only if the incarnation is still
// current, so a stale execution cannot leak status onto a restarted kernel.
func (s *Session) setStatusIfGen(gen int, st domain.KernelStatus) {
	s.mu.Lock()
	stale := s.incarnation != gen || s.closed
	s.mu.Unlock()
	if stale {
		return
	}
	s.setStatus(st)
}

func (s *Session) appendRecord(cell *domain.Cell) {
	s.mu.Lock()
	if s.record != nil {
		s.record.Cells = append(s.record.Cells, *cell.Clone())
	}
	s.mu.Unlock()
	s.saveRecord()
}

func (s *Session) saveRecord() {
	s.mu.Lock()
	store := s.store
	var rec *domain.SessionRecord
	if s.record != nil {
		rec = s.record.Clone()
	}
	s.mu.Unlock()
	if store == nil || rec == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Save(ctx, rec.ID, rec); err != nil {
		s.logger.Warn("failed to persist session record", "session", s.id, "err", err)
	}
}

func (s *Session) fireCellStart(ctx context.Context, cell *domain.Cell) {
	if s.hooks.OnCellStart != nil {
		s.hooks.OnCellStart(ctx, s.cellEvent(cell))
	}
}

func (s *Session) fireCellOutput(ctx context.Context, cell *domain.Cell) {
	if s.hooks.OnCellOutput != nil {
		s.hooks.OnCellOutput(ctx, s.cellEvent(cell))
	}
}

func (s *Session) fireCellFinish(ctx context.Context, cell *domain.Cell) {
	if s.hooks.OnCellFinish != nil {
		s.hooks.OnCellFinish(ctx, s.cellEvent(cell))
	}
}

func (s *Session) cellEvent(cell *domain.Cell) *domain.CellEvent {
	return &domain.CellEvent{
		Timestamp: time.Now().UTC(),
		SessionID: s.id,
		Cell:      cell.Clone(),
	}
}

// teardown releases one incarnation: best-effort shutdown request, then
// transport close, process kill and connection file removal.
func teardown(conn *Connection, wireSession string, restart bool) {
	if conn == nil {
		return
	}
	if conn.Transport != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		req := protocol.New(protocol.MsgTypeShutdownRequest, wireSession)
		_ = req.Encode(protocol.ShutdownContent{Restart: restart})
		_, _ = conn.Transport.Control(ctx, req)
		cancel()
		_ = conn.Transport.Close()
	}
	if conn.Process != nil {
		_ = conn.Process.Kill()
	}
	if conn.ConnectionFile != "" {
		_ = os.Remove(conn.ConnectionFile)
	}
}
