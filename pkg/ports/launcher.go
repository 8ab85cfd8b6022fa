package ports

import "context"

// LaunchSpec describes one kernel process to spawn.
type LaunchSpec struct {
	// Argv is the full command line, program first.
	Argv []string

	// Dir is the working directory; empty means inherit.
	Dir string

	// Env entries are added on top of the parent environment.
	// Passthrough is always explicit; the launcher never injects
	// variables of its own.
	Env map[string]string

	// ConnectionFile is the path the kernel reads its ports and key from.
	ConnectionFile string
}

// Process is a handle to a spawned kernel process.
type Process interface {
	PID() int

	// Interrupt delivers an interrupt signal to the process.
	Interrupt() error

	// Kill terminates the process immediately.
	Kill() error

	// Done is closed when the process exits.
	Done() <-chan struct{}

	// Err returns the exit error, valid after Done is closed.
	Err() error

	// Stderr returns the captured stderr so far, for diagnostics.
	Stderr() string
}

// Launcher spawns kernel processes. The engine never touches OS process
// APIs directly; this is its only window onto them.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// CaptureFunc runs a command to completion and returns its stdout and
// stderr. Capability probes are built on top of it.
type CaptureFunc func(ctx context.Context, name string, args []string, env map[string]string) (stdout, stderr string, err error)
