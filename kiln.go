package kiln

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/kiln/internal/config"
	"github.com/aretw0/kiln/internal/logging"
	"github.com/aretw0/kiln/pkg/adapters/process"
	"github.com/aretw0/kiln/pkg/adapters/pyenv"
	"github.com/aretw0/kiln/pkg/adapters/zmq"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/kernel"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/aretw0/kiln/pkg/protocol"
	"github.com/aretw0/kiln/pkg/translate"
	"github.com/google/uuid"
)

// Dialer connects a wire transport to a running kernel.
type Dialer func(ctx context.Context, info *protocol.ConnectionInfo) (ports.Transport, error)

// Engine is the high-level entry point for the kiln library.
// It bundles environment discovery, capability probing, kernel launching
// and the notebook translation facade behind a simplified API.
type Engine struct {
	finder      ports.Finder
	execCheck   ports.SupportCheck
	kernelCheck ports.SupportCheck
	importCheck ports.SupportCheck
	launcher    ports.Launcher
	dialer      Dialer
	translator  ports.Translator
	store       ports.StateStore
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	cfg         config.Config
	cfgErr      error
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithFinder injects a custom environment finder.
func WithFinder(f ports.Finder) Option {
	return func(e *Engine) {
		e.finder = f
	}
}

// WithSupportCheck replaces the execution capability probe.
func WithSupportCheck(check ports.SupportCheck) Option {
	return func(e *Engine) {
		e.execCheck = check
	}
}

// WithKernelCheck replaces the kernel-spawn capability probe.
func WithKernelCheck(check ports.SupportCheck) Option {
	return func(e *Engine) {
		e.kernelCheck = check
	}
}

// WithImportCheck replaces the notebook-import capability probe.
func WithImportCheck(check ports.SupportCheck) Option {
	return func(e *Engine) {
		e.importCheck = check
	}
}

// WithLauncher injects a custom process launcher.
func WithLauncher(l ports.Launcher) Option {
	return func(e *Engine) {
		e.launcher = l
	}
}

// WithDialer injects a custom transport dialer.
func WithDialer(d Dialer) Option {
	return func(e *Engine) {
		e.dialer = d
	}
}

// WithTranslator injects a custom notebook translator.
func WithTranslator(t ports.Translator) Option {
	return func(e *Engine) {
		e.translator = t
	}
}

// WithStore enables session record persistence.
func WithStore(store ports.StateStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks, forwarded to every
// session the engine connects.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithConfigFile loads a YAML configuration file over the defaults.
// The load error surfaces from New.
func WithConfigFile(path string) Option {
	return func(e *Engine) {
		cfg, err := config.Load(path)
		if err != nil {
			e.cfgErr = err
			return
		}
		e.cfg = cfg
	}
}

// WithOverrides merges loosely-typed configuration overrides over the
// defaults (and over any config file applied before this option).
func WithOverrides(overrides map[string]any) Option {
	return func(e *Engine) {
		if err := e.cfg.Apply(overrides); err != nil {
			e.cfgErr = err
		}
	}
}

// New initializes the Engine. Without options it discovers python3/python
// on PATH, spawns real kernel processes and speaks ZeroMQ.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		finder:      pyenv.DefaultFinder(),
		execCheck:   pyenv.ExecCheck(process.Capture),
		kernelCheck: pyenv.KernelCheck(process.Capture),
		importCheck: pyenv.ImportCheck(process.Capture),
		translator:  translate.New(),
		logger:      logging.NewNop(),
		cfg:         config.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.cfgErr != nil {
		return nil, eng.cfgErr
	}

	if eng.launcher == nil {
		eng.launcher = process.NewLauncher(process.WithLogger(eng.logger))
	}
	if eng.dialer == nil {
		eng.dialer = func(ctx context.Context, info *protocol.ConnectionInfo) (ports.Transport, error) {
			return zmq.Dial(ctx, info, zmq.WithLogger(eng.logger))
		}
	}
	return eng, nil
}

// NotebookSupported reports whether any environment can execute notebook
// cells. A cancelled probe returns the context error, never false.
func (e *Engine) NotebookSupported(ctx context.Context) (bool, error) {
	return e.anySupports(ctx, e.execCheck)
}

// KernelSpawnSupported reports whether any environment can spawn a kernel
// process.
func (e *Engine) KernelSpawnSupported(ctx context.Context) (bool, error) {
	return e.anySupports(ctx, e.kernelCheck)
}

// ImportSupported reports whether any environment can import notebook
// documents.
func (e *Engine) ImportSupported(ctx context.Context) (bool, error) {
	return e.anySupports(ctx, e.importCheck)
}

func (e *Engine) anySupports(ctx context.Context, check ports.SupportCheck) (bool, error) {
	envs, err := e.finder.Environments(ctx)
	if err != nil {
		return false, err
	}
	for _, env := range envs {
		ok, err := check(ctx, env)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			e.logger.Debug("capability probe failed", "environment", env.String(), "err", err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// UsableEnvironment returns the first environment, in finder order, that
// passes the execution capability probe.
func (e *Engine) UsableEnvironment(ctx context.Context) (domain.Environment, error) {
	envs, err := e.finder.Environments(ctx)
	if err != nil {
		return domain.Environment{}, err
	}
	for _, env := range envs {
		ok, err := e.execCheck(ctx, env)
		if err != nil {
			if ctx.Err() != nil {
				return domain.Environment{}, ctx.Err()
			}
			e.logger.Debug("environment probe failed", "environment", env.String(), "err", err)
			continue
		}
		if ok {
			return pyenv.Describe(ctx, process.Capture, env), nil
		}
	}
	return domain.Environment{}, domain.ErrNoUsableEnvironment
}

// connectOptions collects per-connection settings.
type connectOptions struct {
	env       *domain.Environment
	timeout   time.Duration
	overrides map[string]any
	sessionID string
}

// ConnectOption configures one Connect call.
type ConnectOption func(*connectOptions)

// WithEnvironment pins the session to a specific environment, skipping
// discovery. The environment is still capability-probed; Connect fails
// with ErrNotSupported when it cannot execute notebook cells.
func WithEnvironment(env domain.Environment) ConnectOption {
	return func(o *connectOptions) {
		o.env = &env
	}
}

// WithTimeout bounds the whole connect sequence (launch, dial, readiness).
func WithTimeout(d time.Duration) ConnectOption {
	return func(o *connectOptions) {
		o.timeout = d
	}
}

// WithLaunchOverrides merges configuration overrides for this connection
// only, e.g. a different launch argv or working directory.
func WithLaunchOverrides(overrides map[string]any) ConnectOption {
	return func(o *connectOptions) {
		o.overrides = overrides
	}
}

// WithSessionID fixes the session ID instead of generating one. Useful
// when resuming a persisted record.
func WithSessionID(id string) ConnectOption {
	return func(o *connectOptions) {
		o.sessionID = id
	}
}

// Connect spawns a kernel for a usable environment and returns a live
// session. The same connect sequence is reused for kernel restarts.
func (e *Engine) Connect(ctx context.Context, opts ...ConnectOption) (*kernel.Session, error) {
	var co connectOptions
	for _, opt := range opts {
		opt(&co)
	}

	cfg := e.cfg
	if err := cfg.Apply(co.overrides); err != nil {
		return nil, err
	}
	if co.timeout <= 0 {
		co.timeout = cfg.ConnectTimeout
	}

	var env domain.Environment
	if co.env != nil {
		ctxProbe, cancel := context.WithTimeout(ctx, co.timeout)
		ok, err := e.execCheck(ctxProbe, *co.env)
		cancel()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("environment %s: %w", co.env.String(), domain.ErrNotSupported)
		}
		env = *co.env
	} else {
		ctxFind, cancel := context.WithTimeout(ctx, co.timeout)
		found, err := e.UsableEnvironment(ctxFind)
		cancel()
		if err != nil {
			return nil, err
		}
		env = found
	}

	connector := e.connector(env, cfg, co.timeout)

	sessOpts := []kernel.Option{
		kernel.WithLogger(e.logger),
		kernel.WithLifecycleHooks(e.hooks),
	}
	if e.store != nil {
		sessOpts = append(sessOpts, kernel.WithStore(e.store))
	}
	if co.sessionID != "" {
		sessOpts = append(sessOpts, kernel.WithID(co.sessionID))
	}

	ctxConn, cancel := context.WithTimeout(ctx, co.timeout)
	defer cancel()
	sess, err := kernel.New(ctxConn, env, connector, sessOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting kernel: %w", err)
	}
	return sess, nil
}

// connector builds the closure that spawns one kernel incarnation. It is
// invoked on connect and again on every restart, each time with fresh
// ports and a fresh connection file.
func (e *Engine) connector(env domain.Environment, cfg config.Config, timeout time.Duration) kernel.Connector {
	return func(ctx context.Context) (*kernel.Connection, error) {
		if _, ok := ctx.Deadline(); !ok && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		info, err := protocol.NewConnectionInfo(cfg.IP)
		if err != nil {
			return nil, fmt.Errorf("allocating kernel ports: %w", err)
		}

		file := filepath.Join(os.TempDir(), "kiln-"+uuid.NewString()+".json")
		if err := info.WriteFile(file); err != nil {
			return nil, fmt.Errorf("writing connection file: %w", err)
		}

		spec := ports.LaunchSpec{
			Argv:           cfg.ExpandArgv(env.Path, file),
			Dir:            cfg.Launch.Dir,
			Env:            cfg.Launch.Env,
			ConnectionFile: file,
		}
		proc, err := e.launcher.Launch(ctx, spec)
		if err != nil {
			os.Remove(file)
			return nil, fmt.Errorf("launching kernel: %w", err)
		}

		transport, err := e.dialer(ctx, info)
		if err != nil {
			proc.Kill()
			os.Remove(file)
			return nil, fmt.Errorf("dialing kernel: %w", err)
		}

		conn := &kernel.Connection{
			Transport:      transport,
			Process:        proc,
			ConnectionFile: file,
			Info:           info,
		}
		if err := e.awaitReady(ctx, conn, cfg.ReadyTimeout); err != nil {
			transport.Close()
			proc.Kill()
			os.Remove(file)
			return nil, err
		}
		return conn, nil
	}
}

// awaitReady polls kernel_info until the kernel answers on the shell
// channel. Kernels accept connections before their sockets are fully
// wired, so the first requests may go unanswered.
func (e *Engine) awaitReady(ctx context.Context, conn *kernel.Connection, readyTimeout time.Duration) error {
	if readyTimeout <= 0 {
		readyTimeout = 20 * time.Second
	}
	deadline := time.Now().Add(readyTimeout)

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := conn.Transport.Send(attemptCtx, protocol.New(protocol.MsgTypeKernelInfoRequest, uuid.NewString()))
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-conn.Process.Done():
			return fmt.Errorf("kernel exited during startup: %w\n%s", conn.Process.Err(), conn.Process.Stderr())
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("kernel not ready after %s: %w", readyTimeout, domain.ErrConnectionFailed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// ExportNotebook serializes cells into an nbformat JSON document.
func (e *Engine) ExportNotebook(cells []domain.Cell) ([]byte, error) {
	return e.translator.ToNotebook(cells)
}

// ParseNotebook parses an nbformat JSON document into cells.
func (e *Engine) ParseNotebook(data []byte) ([]domain.Cell, error) {
	return e.translator.FromNotebook(data)
}

// ImportNotebook reads a notebook file and returns marker-delimited
// source text.
func (e *Engine) ImportNotebook(path string) (string, error) {
	return e.translator.ImportFile(path)
}

// Store returns the configured session record store, if any.
func (e *Engine) Store() ports.StateStore {
	return e.store
}
