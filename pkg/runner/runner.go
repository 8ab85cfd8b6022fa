package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/kernel"
)

// Session is the slice of the kernel session the runner needs: execute a
// cell, and the two escalation levers used when a cell will not finish.
type Session interface {
	ExecuteCell(ctx context.Context, cell *domain.Cell) *kernel.CellStream
	InterruptKernel(ctx context.Context) error
	RestartKernel(ctx context.Context) error
}

// ContentRenderer is a function that transforms content before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// Runner executes cells in order against a kernel session using provided IO.
// This allows for easy testing and integration with different frontends (CLI, TUI, etc).
type Runner struct {
	// Output receives rendered cell output. Defaults to Stdout.
	Output io.Writer

	// Renderer transforms markdown content before output. If nil, markdown
	// is printed as-is.
	Renderer ContentRenderer

	// Logger is used for internal debug logging.
	// If nil, a no-op logger is used.
	Logger *slog.Logger

	// CellTimeout bounds each cell's execution. Zero means no limit.
	CellTimeout time.Duration

	// InterruptGrace is how long to wait after an interrupt before
	// escalating to a kernel restart. Zero defaults to 5s.
	InterruptGrace time.Duration

	// StopOnError stops the run at the first cell that finishes in error.
	StopOnError bool

	// Quiet suppresses the per-cell source echo.
	Quiet bool
}

// NewRunner creates a Runner with default Stdout output.
func NewRunner() *Runner {
	return &Runner{
		Output: os.Stdout,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Run executes the cells in order until completion, an error, or
// cancellation. The first Ctrl+C interrupts the running cell; a second one
// within the same cell aborts the run.
func (r *Runner) Run(ctx context.Context, sess Session, cells []domain.Cell) error {
	out := r.Output
	if out == nil {
		out = os.Stdout
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	signals := NewSignalManager()
	defer signals.Stop()

	for i := range cells {
		cell := cells[i]
		if !r.Quiet {
			r.echo(out, &cell)
		}

		final, err := r.runCell(ctx, sess, &cell, signals, out, logger)
		if err != nil {
			return err
		}

		if final != nil && final.State == domain.CellStateError && r.StopOnError {
			if eo := final.ErrorOutput(); eo != nil {
				return fmt.Errorf("cell %d failed: %s: %s", i+1, eo.ErrorName, eo.ErrorValue)
			}
			return fmt.Errorf("cell %d failed", i+1)
		}
	}
	return nil
}

// runCell executes one cell, rendering snapshots as they arrive and
// escalating interrupt -> restart if the cell outlives its timeout.
func (r *Runner) runCell(
	ctx context.Context,
	sess Session,
	cell *domain.Cell,
	signals *SignalManager,
	out io.Writer,
	logger *slog.Logger,
) (*domain.Cell, error) {
	stream := sess.ExecuteCell(ctx, cell)
	// Releases the stream on the early returns that stop draining it.
	defer stream.Close()

	var timeout <-chan time.Time
	if r.CellTimeout > 0 {
		t := time.NewTimer(r.CellTimeout)
		defer t.Stop()
		timeout = t.C
	}

	grace := r.InterruptGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	var escalate <-chan time.Time
	interrupted := false
	rendered := 0
	var final *domain.Cell

	for {
		select {
		case snap, ok := <-stream.Snapshots():
			if !ok {
				if err := stream.Err(); err != nil {
					// A failure racing a Ctrl+C is an interruption,
					// not an execution error.
					signals.CheckRace()
					if signals.Context().Err() != nil {
						return nil, fmt.Errorf("interrupted")
					}
					return nil, fmt.Errorf("execution failed: %w", err)
				}
				return final, nil
			}
			final = snap
			rendered = r.renderNew(out, snap, rendered)

		case <-timeout:
			timeout = nil
			logger.Debug("cell timeout, interrupting kernel")
			if err := sess.InterruptKernel(ctx); err != nil {
				logger.Warn("interrupt failed", "err", err)
			}
			t := time.NewTimer(grace)
			defer t.Stop()
			escalate = t.C

		case <-escalate:
			escalate = nil
			logger.Debug("interrupt did not stop the cell, restarting kernel")
			if err := sess.RestartKernel(ctx); err != nil {
				return nil, fmt.Errorf("restart after timeout: %w", err)
			}

		case <-signals.Context().Done():
			if interrupted {
				return nil, fmt.Errorf("aborted")
			}
			interrupted = true
			signals.Reset()
			fmt.Fprintln(out, "^C interrupting kernel (press again to abort)")
			if err := sess.InterruptKernel(ctx); err != nil {
				logger.Warn("interrupt failed", "err", err)
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// renderNew writes outputs not yet seen and returns the new count.
// Snapshots accumulate, so the tail past `seen` is exactly what's new.
func (r *Runner) renderNew(out io.Writer, snap *domain.Cell, seen int) int {
	for _, o := range snap.Outputs[seen:] {
		r.renderOutput(out, snap.Kind, o)
	}
	return len(snap.Outputs)
}

func (r *Runner) renderOutput(out io.Writer, kind domain.CellKind, o domain.Output) {
	switch o.Kind {
	case domain.OutputError:
		if len(o.Traceback) > 0 {
			fmt.Fprintln(out, strings.Join(o.Traceback, "\n"))
			return
		}
		fmt.Fprintf(out, "%s: %s\n", o.ErrorName, o.ErrorValue)
	default:
		if md, ok := o.Data["text/markdown"]; ok {
			if r.Renderer != nil {
				if rendered, err := r.Renderer(md); err == nil {
					fmt.Fprint(out, rendered)
					return
				}
			}
			// No renderer (or a failing one): print the markdown as-is.
			fmt.Fprint(out, md)
			if !strings.HasSuffix(md, "\n") {
				fmt.Fprintln(out)
			}
			return
		}
		if text, ok := o.Data["text/plain"]; ok {
			fmt.Fprint(out, text)
			if !strings.HasSuffix(text, "\n") {
				fmt.Fprintln(out)
			}
		}
	}
}

func (r *Runner) echo(out io.Writer, cell *domain.Cell) {
	if cell.Kind == domain.CellKindMarkdown {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(cell.Source, "\n"), "\n") {
		fmt.Fprintf(out, ">>> %s\n", line)
	}
}
