package testutils

import (
	"context"
	"sync"

	"github.com/aretw0/kiln/pkg/kernel"
	"github.com/aretw0/kiln/pkg/ports"
)

// FakeProcess implements ports.Process without an OS process.
type FakeProcess struct {
	Pid int

	mu          sync.Mutex
	done        chan struct{}
	err         error
	stderr      string
	Killed      bool
	Interrupted int
}

// NewFakeProcess creates a process that runs until Kill or Exit.
func NewFakeProcess(pid int) *FakeProcess {
	return &FakeProcess{Pid: pid, done: make(chan struct{})}
}

func (p *FakeProcess) PID() int { return p.Pid }

func (p *FakeProcess) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Interrupted++
	return nil
}

func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Killed {
		p.Killed = true
		close(p.done)
	}
	return nil
}

// Exit simulates the process dying on its own with the given error.
func (p *FakeProcess) Exit(err error, stderr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Killed {
		return
	}
	p.Killed = true
	p.err = err
	p.stderr = stderr
	close(p.done)
}

func (p *FakeProcess) Done() <-chan struct{} { return p.done }

func (p *FakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *FakeProcess) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr
}

// FakeLauncher implements ports.Launcher, recording every launch.
type FakeLauncher struct {
	mu        sync.Mutex
	processes []*FakeProcess

	// Err, when set, fails the next Launch.
	Err error
}

// NewFakeLauncher creates an empty launcher.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{}
}

// Launch spawns a fake process.
func (l *FakeLauncher) Launch(ctx context.Context, spec ports.LaunchSpec) (ports.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	p := NewFakeProcess(1000 + len(l.processes))
	l.processes = append(l.processes, p)
	return p, nil
}

// Launches returns how many processes were spawned.
func (l *FakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processes)
}

// Process returns the i-th spawned process.
func (l *FakeLauncher) Process(i int) *FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processes[i]
}

// Connector builds a kernel.Connector producing fake incarnations: each
// call yields a fresh transport (empty kernel namespace) and process.
// The incarnations are observable afterwards for assertions.
type Connector struct {
	mu         sync.Mutex
	transports []*FakeTransport
	processes  []*FakeProcess

	// Err, when set, fails the next connect.
	Err error
}

// NewConnector creates an empty connector.
func NewConnector() *Connector {
	return &Connector{}
}

// Connect is the kernel.Connector implementation.
func (c *Connector) Connect(ctx context.Context) (*kernel.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	tr := NewFakeTransport()
	proc := NewFakeProcess(2000 + len(c.processes))
	c.transports = append(c.transports, tr)
	c.processes = append(c.processes, proc)
	return &kernel.Connection{Transport: tr, Process: proc}, nil
}

// Incarnations returns how many connections were established.
func (c *Connector) Incarnations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transports)
}

// Transport returns the i-th incarnation's transport.
func (c *Connector) Transport(i int) *FakeTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transports[i]
}

// Process returns the i-th incarnation's process.
func (c *Connector) Process(i int) *FakeProcess {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processes[i]
}

// LastProcess returns the most recent incarnation's process.
func (c *Connector) LastProcess() *FakeProcess {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processes[len(c.processes)-1]
}
