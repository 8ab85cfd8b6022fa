package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/pkg/adapters/file"
	"github.com/aretw0/kiln/pkg/adapters/memory"
	"github.com/aretw0/kiln/pkg/adapters/redis"
	"github.com/aretw0/kiln/pkg/ports"
)

// EngineOptions contains the shared configuration for commands that need
// a live engine.
type EngineOptions struct {
	ConfigPath string
	Store      string // memory | file | redis
	StoreDir   string
	RedisURL   string
	LogLevel   string
	Debug      bool
}

// NewEngine builds an engine and its logger from CLI options. It is the
// entry point for commands living outside this package.
func NewEngine(opts EngineOptions, extra ...kiln.Option) (*kiln.Engine, *slog.Logger, error) {
	logger := createLogger(opts.LogLevel, opts.Debug)
	engine, err := createEngine(opts, logger, extra...)
	return engine, logger, err
}

// createEngine initializes a kiln engine with standard CLI conventions.
func createEngine(opts EngineOptions, logger *slog.Logger, extra ...kiln.Option) (*kiln.Engine, error) {
	engineOpts := []kiln.Option{
		kiln.WithLogger(logger),
	}

	if opts.ConfigPath != "" {
		engineOpts = append(engineOpts, kiln.WithConfigFile(opts.ConfigPath))
	}

	store, err := NewStore(opts)
	if err != nil {
		return nil, err
	}
	if store != nil {
		engineOpts = append(engineOpts, kiln.WithStore(store))
	}
	engineOpts = append(engineOpts, extra...)

	engine, err := kiln.New(engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return engine, nil
}

// NewStore builds the session record backend selected by flags.
func NewStore(opts EngineOptions) (ports.StateStore, error) {
	switch opts.Store {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewStore(), nil
	case "file":
		dir := opts.StoreDir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolving home directory: %w", err)
			}
			dir = filepath.Join(home, ".kiln", "sessions")
		}
		return file.NewStore(dir)
	case "redis":
		addr := opts.RedisURL
		if addr == "" {
			addr = "localhost:6379"
		}
		return redis.New(addr, "", 0), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Store)
	}
}
