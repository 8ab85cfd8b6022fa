// Package process implements the kernel launcher on top of os/exec.
// It is the engine's only window onto OS process APIs: spawn with an
// explicit environment map, capture stderr, watch for exit, deliver
// interrupt and kill signals.
package process

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/aretw0/kiln/internal/logging"
	"github.com/aretw0/kiln/pkg/ports"
)

// Launcher implements ports.Launcher using os/exec.
type Launcher struct {
	logger *slog.Logger
}

// Option configures the launcher.
type Option func(*Launcher)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLauncher creates a process launcher.
func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch spawns the process described by spec. The spec's Env entries are
// appended on top of the parent environment; nothing else is injected.
func (l *Launcher) Launch(ctx context.Context, spec ports.LaunchSpec) (ports.Process, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("launch spec has empty argv")
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	p := &proc{done: make(chan struct{})}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting kernel process: %w", err)
	}
	p.cmd = cmd

	l.logger.Debug("kernel process started", "pid", cmd.Process.Pid, "argv", spec.Argv)

	go func() {
		p.mu.Lock()
		p.err = cmd.Wait()
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

// Capture runs a command to completion and returns its stdout and stderr.
// It satisfies ports.CaptureFunc and backs the environment probes.
func Capture(ctx context.Context, name string, args []string, env map[string]string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

type proc struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	err    error
	stdout lockedBuffer
	stderr lockedBuffer
}

func (p *proc) PID() int {
	return p.cmd.Process.Pid
}

func (p *proc) Interrupt() error {
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *proc) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

func (p *proc) Done() <-chan struct{} {
	return p.done
}

func (p *proc) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *proc) Stderr() string {
	return p.stderr.String()
}

// lockedBuffer is a bytes.Buffer safe for concurrent writes and reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
