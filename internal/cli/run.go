package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/internal/presentation/tui"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/runner"
	"github.com/aretw0/kiln/pkg/translate"
)

// RunOptions contains all the configuration for the Run command.
type RunOptions struct {
	EngineOptions

	Path        string // source file (.py with cell markers, or .ipynb)
	SessionID   string
	Timeout     time.Duration
	StopOnError bool
	Quiet       bool
}

// RunFile executes every cell of a source file against a fresh kernel.
func RunFile(opts RunOptions) error {
	logger := createLogger(opts.LogLevel, opts.Debug)

	interactive := isInteractive() && !opts.Quiet
	if interactive {
		tui.PrintBanner(kiln.Version)
	}

	engine, err := createEngine(opts.EngineOptions, logger)
	if err != nil {
		return err
	}

	cells, err := loadCells(engine, opts.Path)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		printSystemMessage("No cells found in '%s'.", opts.Path)
		return nil
	}

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	env, err := engine.UsableEnvironment(sigCtx)
	if err != nil {
		if err == domain.ErrNoUsableEnvironment {
			return fmt.Errorf("no usable environment found (is ipykernel installed?)")
		}
		return err
	}
	if !opts.Quiet {
		printSystemMessage("Using %s", env.String())
	}

	var connectOpts []kiln.ConnectOption
	connectOpts = append(connectOpts, kiln.WithEnvironment(env))
	if opts.SessionID != "" {
		connectOpts = append(connectOpts, kiln.WithSessionID(opts.SessionID))
	}

	sess, err := engine.Connect(sigCtx, connectOpts...)
	if err != nil {
		return fmt.Errorf("failed to connect kernel: %w", err)
	}
	defer sess.Close()

	r := runner.NewRunner()
	r.Logger = logger
	r.CellTimeout = opts.Timeout
	r.StopOnError = opts.StopOnError
	r.Quiet = opts.Quiet
	if interactive {
		r.Renderer = tui.NewRenderer()
	}

	runErr := r.Run(sigCtx, sess, cells)
	if sigCtx.Err() != nil && runErr == nil {
		runErr = sigCtx.Err()
	}

	if !opts.Quiet {
		if runErr == nil {
			printSystemMessage("Finished %d cells.", len(cells))
		} else if isInterrupted(runErr) {
			printSystemMessage("Interrupted.")
		}
	}
	return handleExecutionError(runErr)
}

// loadCells parses the input file: notebooks are translated, everything
// else is treated as marker-delimited source.
func loadCells(engine *kiln.Engine, path string) ([]domain.Cell, error) {
	if strings.EqualFold(filepath.Ext(path), ".ipynb") {
		source, err := engine.ImportNotebook(path)
		if err != nil {
			return nil, err
		}
		return translate.ParseMarkers(source, path), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}
	return translate.ParseMarkers(string(data), path), nil
}
