package runner_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/kiln/internal/testutils"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/kernel"
	"github.com/aretw0/kiln/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) (*kernel.Session, *testutils.Connector) {
	t.Helper()

	connector := testutils.NewConnector()
	sess, err := kernel.New(context.Background(), domain.Environment{Path: "python3"}, connector.Connect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess, connector
}

func codeCell(source string) domain.Cell {
	return *domain.NewCell(domain.CellKindCode, source, "", 0)
}

func TestRun_RendersOutputs(t *testing.T) {
	sess, _ := newSession(t)
	var out bytes.Buffer

	r := runner.NewRunner()
	r.Output = &out

	cells := []domain.Cell{
		codeCell("print('hello')"),
		*domain.NewCell(domain.CellKindMarkdown, "# Title", "", 0),
		codeCell("42"),
	}
	require.NoError(t, r.Run(context.Background(), sess, cells))

	text := out.String()
	assert.Contains(t, text, ">>> print('hello')")
	assert.Contains(t, text, "hello\n")
	assert.Contains(t, text, "# Title")
	assert.Contains(t, text, "42")
	// Markdown cells are not echoed as source lines.
	assert.NotContains(t, text, ">>> # Title")
}

func TestRun_QuietSuppressesEcho(t *testing.T) {
	sess, _ := newSession(t)
	var out bytes.Buffer

	r := runner.NewRunner()
	r.Output = &out
	r.Quiet = true

	require.NoError(t, r.Run(context.Background(), sess, []domain.Cell{codeCell("print('x')")}))
	assert.NotContains(t, out.String(), ">>>")
	assert.Contains(t, out.String(), "x\n")
}

func TestRun_RendererTransformsMarkdown(t *testing.T) {
	sess, _ := newSession(t)
	var out bytes.Buffer

	r := runner.NewRunner()
	r.Output = &out
	r.Renderer = func(md string) (string, error) {
		return "[rendered]" + md, nil
	}

	cells := []domain.Cell{*domain.NewCell(domain.CellKindMarkdown, "*em*", "", 0)}
	require.NoError(t, r.Run(context.Background(), sess, cells))
	assert.Contains(t, out.String(), "[rendered]*em*")
}

func TestRun_RendererErrorFallsBackToRaw(t *testing.T) {
	sess, _ := newSession(t)
	var out bytes.Buffer

	r := runner.NewRunner()
	r.Output = &out
	r.Renderer = func(md string) (string, error) {
		return "", errors.New("no terminal")
	}

	cells := []domain.Cell{*domain.NewCell(domain.CellKindMarkdown, "# Raw", "", 0)}
	require.NoError(t, r.Run(context.Background(), sess, cells))
	assert.Contains(t, out.String(), "# Raw")
}

func TestRun_StopOnError(t *testing.T) {
	sess, _ := newSession(t)
	var out bytes.Buffer

	r := runner.NewRunner()
	r.Output = &out
	r.StopOnError = true

	cells := []domain.Cell{
		codeCell("undefined_name"),
		codeCell("print('never')"),
	}
	err := r.Run(context.Background(), sess, cells)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NameError")
	assert.NotContains(t, out.String(), ">>> print('never')")
}

func TestRun_ContinuesPastErrorByDefault(t *testing.T) {
	sess, _ := newSession(t)
	var out bytes.Buffer

	r := runner.NewRunner()
	r.Output = &out

	cells := []domain.Cell{
		codeCell("undefined_name"),
		codeCell("print('after')"),
	}
	require.NoError(t, r.Run(context.Background(), sess, cells))
	assert.Contains(t, out.String(), "NameError")
	assert.Contains(t, out.String(), "after\n")
}

func TestRun_TimeoutInterruptsCell(t *testing.T) {
	sess, _ := newSession(t)
	var out bytes.Buffer

	r := runner.NewRunner()
	r.Output = &out
	r.CellTimeout = 30 * time.Millisecond

	require.NoError(t, r.Run(context.Background(), sess, []domain.Cell{codeCell("BLOCK")}))
	assert.Contains(t, out.String(), "KeyboardInterrupt")
}

// stubbornSession ignores interrupts, forcing the runner to escalate to a
// kernel restart.
type stubbornSession struct {
	*kernel.Session
}

func (s *stubbornSession) InterruptKernel(ctx context.Context) error {
	return nil
}

func TestRun_TimeoutEscalatesToRestart(t *testing.T) {
	sess, connector := newSession(t)
	var out bytes.Buffer

	r := runner.NewRunner()
	r.Output = &out
	r.CellTimeout = 30 * time.Millisecond
	r.InterruptGrace = 30 * time.Millisecond

	err := r.Run(context.Background(), &stubbornSession{sess}, []domain.Cell{codeCell("BLOCK")})
	require.NoError(t, err)

	assert.Equal(t, 2, connector.Incarnations())
	assert.True(t, strings.Contains(out.String(), "KernelRestarted"))
}

func TestRun_CanceledContext(t *testing.T) {
	sess, _ := newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := runner.NewRunner()
	r.Output = &bytes.Buffer{}
	err := r.Run(ctx, sess, []domain.Cell{codeCell("BLOCK")})
	assert.Error(t, err)
}
