package kiln_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/kiln"
	"github.com/aretw0/kiln/internal/testutils"
	"github.com/aretw0/kiln/pkg/adapters/pyenv"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/aretw0/kiln/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDialer(transports *[]*testutils.FakeTransport) kiln.Dialer {
	return func(ctx context.Context, info *protocol.ConnectionInfo) (ports.Transport, error) {
		tr := testutils.NewFakeTransport()
		if transports != nil {
			*transports = append(*transports, tr)
		}
		return tr, nil
	}
}

func supported(ctx context.Context, env domain.Environment) (bool, error) {
	return true, nil
}

func unsupported(ctx context.Context, env domain.Environment) (bool, error) {
	return false, nil
}

func newFakeEngine(t *testing.T, opts ...kiln.Option) (*kiln.Engine, *testutils.FakeLauncher) {
	t.Helper()

	launcher := testutils.NewFakeLauncher()
	base := []kiln.Option{
		kiln.WithFinder(pyenv.NewStaticFinder(domain.Environment{Path: "/fake/python3"})),
		kiln.WithSupportCheck(supported),
		kiln.WithKernelCheck(supported),
		kiln.WithImportCheck(supported),
		kiln.WithLauncher(launcher),
		kiln.WithDialer(fakeDialer(nil)),
	}
	eng, err := kiln.New(append(base, opts...)...)
	require.NoError(t, err)
	return eng, launcher
}

func TestCapabilityProbes(t *testing.T) {
	eng, _ := newFakeEngine(t)
	ctx := context.Background()

	for _, probe := range []func(context.Context) (bool, error){
		eng.NotebookSupported,
		eng.KernelSpawnSupported,
		eng.ImportSupported,
	} {
		ok, err := probe(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestCapabilityProbes_NoSupport(t *testing.T) {
	eng, _ := newFakeEngine(t,
		kiln.WithSupportCheck(unsupported),
		kiln.WithKernelCheck(unsupported),
		kiln.WithImportCheck(unsupported),
	)

	ok, err := eng.NotebookSupported(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCapabilityProbes_CancelledIsError(t *testing.T) {
	eng, _ := newFakeEngine(t, kiln.WithSupportCheck(
		func(ctx context.Context, env domain.Environment) (bool, error) {
			return false, ctx.Err()
		},
	))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled probe reports the cancellation, never "unsupported".
	_, err := eng.NotebookSupported(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCapabilityProbes_SkipsFailingEnvironments(t *testing.T) {
	eng, _ := newFakeEngine(t,
		kiln.WithFinder(pyenv.NewStaticFinder(
			domain.Environment{Path: "/broken"},
			domain.Environment{Path: "/working"},
		)),
		kiln.WithSupportCheck(func(ctx context.Context, env domain.Environment) (bool, error) {
			if env.Path == "/broken" {
				return false, errors.New("probe exploded")
			}
			return true, nil
		}),
	)

	ok, err := eng.NotebookSupported(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUsableEnvironment_FirstWins(t *testing.T) {
	eng, _ := newFakeEngine(t, kiln.WithFinder(pyenv.NewStaticFinder(
		domain.Environment{Path: "/first"},
		domain.Environment{Path: "/second"},
	)))

	env, err := eng.UsableEnvironment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/first", env.Path)
}

func TestUsableEnvironment_SkipsUnsupported(t *testing.T) {
	eng, _ := newFakeEngine(t,
		kiln.WithFinder(pyenv.NewStaticFinder(
			domain.Environment{Path: "/no-kernel"},
			domain.Environment{Path: "/full"},
		)),
		kiln.WithSupportCheck(func(ctx context.Context, env domain.Environment) (bool, error) {
			return env.Path == "/full", nil
		}),
	)

	env, err := eng.UsableEnvironment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/full", env.Path)
}

func TestUsableEnvironment_NoneUsable(t *testing.T) {
	eng, _ := newFakeEngine(t, kiln.WithSupportCheck(unsupported))

	_, err := eng.UsableEnvironment(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoUsableEnvironment)
}

func TestConnect_ExecutesCells(t *testing.T) {
	eng, launcher := newFakeEngine(t)
	ctx := context.Background()

	sess, err := eng.Connect(ctx, kiln.WithTimeout(5*time.Second))
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, 1, launcher.Launches())
	assert.Equal(t, "/fake/python3", sess.Environment().Path)

	cell, err := sess.Execute(ctx, "print('connected')", "", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.CellStateFinished, cell.State)
	assert.Equal(t, "connected\n", cell.Text())
}

func TestConnect_PinnedUnsupportedEnvironment(t *testing.T) {
	eng, _ := newFakeEngine(t, kiln.WithSupportCheck(unsupported))

	_, err := eng.Connect(context.Background(),
		kiln.WithEnvironment(domain.Environment{Path: "/no/kernel"}),
		kiln.WithTimeout(time.Second),
	)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
}

func TestConnect_SessionID(t *testing.T) {
	eng, _ := newFakeEngine(t)

	sess, err := eng.Connect(context.Background(), kiln.WithSessionID("pinned"))
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, "pinned", sess.ID())
}

func TestConnect_DialFailureKillsProcess(t *testing.T) {
	wantErr := errors.New("connection refused")
	eng, launcher := newFakeEngine(t, kiln.WithDialer(
		func(ctx context.Context, info *protocol.ConnectionInfo) (ports.Transport, error) {
			return nil, wantErr
		},
	))

	_, err := eng.Connect(context.Background(), kiln.WithTimeout(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)

	// The launched kernel process must not be left behind.
	require.Equal(t, 1, launcher.Launches())
	assert.True(t, launcher.Process(0).Killed)
}

func TestConnect_CancelledDuringProbe(t *testing.T) {
	probing := make(chan struct{})
	eng, launcher := newFakeEngine(t, kiln.WithSupportCheck(
		func(ctx context.Context, env domain.Environment) (bool, error) {
			close(probing)
			<-ctx.Done()
			return false, ctx.Err()
		},
	))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-probing
		cancel()
	}()

	_, err := eng.Connect(ctx, kiln.WithTimeout(5*time.Second))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, launcher.Launches(), "no kernel may be spawned after cancellation")
}

func TestConnect_CancelledMidDial(t *testing.T) {
	dialing := make(chan struct{})
	eng, launcher := newFakeEngine(t, kiln.WithDialer(
		func(ctx context.Context, info *protocol.ConnectionInfo) (ports.Transport, error) {
			close(dialing)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-dialing
		cancel()
	}()

	_, err := eng.Connect(ctx, kiln.WithTimeout(5*time.Second))
	assert.ErrorIs(t, err, context.Canceled)

	// Cancellation mid-connect still tears the incarnation down.
	require.Equal(t, 1, launcher.Launches())
	assert.True(t, launcher.Process(0).Killed)
}

func TestConnect_LaunchFailure(t *testing.T) {
	eng, launcher := newFakeEngine(t)
	launcher.Err = errors.New("spawn failed")

	_, err := eng.Connect(context.Background(), kiln.WithTimeout(time.Second))
	assert.Error(t, err)
}

func TestConnect_RestartSpawnsFreshIncarnation(t *testing.T) {
	eng, launcher := newFakeEngine(t)
	ctx := context.Background()

	sess, err := eng.Connect(ctx)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.RestartKernel(ctx))
	assert.Equal(t, 2, launcher.Launches())
	assert.True(t, launcher.Process(0).Killed)
	assert.False(t, launcher.Process(1).Killed)
}

func TestNew_BadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	require.NoError(t, os.WriteFile(path, []byte("launch: [broken"), 0o644))

	_, err := kiln.New(kiln.WithConfigFile(path))
	assert.Error(t, err)
}

func TestNotebookFacade(t *testing.T) {
	eng, _ := newFakeEngine(t)

	cells := []domain.Cell{
		{Kind: domain.CellKindCode, Source: "x = 1"},
		{Kind: domain.CellKindMarkdown, Source: "notes"},
	}
	data, err := eng.ExportNotebook(cells)
	require.NoError(t, err)

	back, err := eng.ParseNotebook(data)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, "x = 1", back[0].Source)

	path := filepath.Join(t.TempDir(), "nb.ipynb")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	source, err := eng.ImportNotebook(path)
	require.NoError(t, err)
	assert.Contains(t, source, "x = 1")
}
