package runner

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// signalRaceWindow is how long a stream failure waits for the signal
// context to catch up before being reported as a genuine error.
const signalRaceWindow = 100 * time.Millisecond

// SignalManager owns the Ctrl+C flow of a run. The first signal maps to a
// kernel interrupt and the listener is re-armed; a second one within the
// same cell aborts the run.
type SignalManager struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSignalManager creates a manager that is already listening.
func NewSignalManager() *SignalManager {
	sm := &SignalManager{}
	sm.Reset()
	return sm
}

// Context returns the current signal context. It is replaced on Reset, so
// callers must re-read it after handling a signal.
func (sm *SignalManager) Context() context.Context {
	return sm.ctx
}

// Reset re-arms the listener after a signal was turned into a kernel
// interrupt, so the next Ctrl+C is observable again.
func (sm *SignalManager) Reset() {
	if sm.cancel != nil {
		sm.cancel()
	}
	sm.ctx, sm.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Stop permanently stops the signal listener.
func (sm *SignalManager) Stop() {
	if sm.cancel != nil {
		sm.cancel()
	}
}

// CheckRace gives the signal context a brief window to observe a Ctrl+C
// that may have caused the failure at hand: interrupting a kernel can kill
// the execution stream before the signal context fires, and without the
// wait that interruption would be misreported as an execution error.
func (sm *SignalManager) CheckRace() {
	if sm.ctx.Err() == nil {
		select {
		case <-sm.ctx.Done():
			// The signal arrived during the wait.
		case <-time.After(signalRaceWindow):
			// No signal: the failure stands on its own.
		}
	}
}
