package pyenv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/kiln/pkg/adapters/pyenv"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureReturning(stdout, stderr string, err error) func(context.Context, string, []string, map[string]string) (string, string, error) {
	return func(ctx context.Context, name string, args []string, env map[string]string) (string, string, error) {
		return stdout, stderr, err
	}
}

func TestStaticFinder_PreservesOrder(t *testing.T) {
	finder := pyenv.NewStaticFinder(
		domain.Environment{Path: "/venv/bin/python"},
		domain.Environment{Path: "python3"},
	)

	envs, err := finder.Environments(context.Background())
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "/venv/bin/python", envs[0].Path)
}

func TestExecCheck(t *testing.T) {
	env := domain.Environment{Path: "python3"}
	ctx := context.Background()

	ok, err := pyenv.ExecCheck(captureReturning("8.0.0", "", nil))(ctx, env)
	require.NoError(t, err)
	assert.True(t, ok)

	// A probe failure is "unsupported", not an error.
	ok, err = pyenv.ExecCheck(captureReturning("", "No module named ipykernel", errors.New("exit status 1")))(ctx, env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecCheck_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pyenv.ExecCheck(captureReturning("", "", errors.New("killed")))(ctx, domain.Environment{Path: "python3"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	env := domain.Environment{Path: "python3"}

	described := pyenv.Describe(ctx, captureReturning("Python 3.12.1\n", "", nil), env)
	assert.Equal(t, "3.12.1", described.Version)

	// Old interpreters print the banner on stderr.
	described = pyenv.Describe(ctx, captureReturning("", "Python 2.7.18\n", nil), env)
	assert.Equal(t, "2.7.18", described.Version)

	// Probe failures leave the descriptor untouched.
	described = pyenv.Describe(ctx, captureReturning("", "", errors.New("not found")), env)
	assert.Empty(t, described.Version)
}
