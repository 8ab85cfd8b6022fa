// Package pyenv provides the default environment discovery and capability
// probes for Python/IPython kernels: a static finder over supplied
// interpreter descriptors and support checks built on version probes of the
// interpreter's kernel and notebook modules.
package pyenv

import (
	"context"
	"strings"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
)

// StaticFinder serves a fixed, ordered list of environments.
// List order is preference order: the first qualifying entry wins.
type StaticFinder []domain.Environment

// Environments returns the configured list.
func (f StaticFinder) Environments(ctx context.Context) ([]domain.Environment, error) {
	return f, nil
}

// NewStaticFinder wraps the given descriptors.
func NewStaticFinder(envs ...domain.Environment) StaticFinder {
	return StaticFinder(envs)
}

// DefaultFinder lists the conventional interpreter names resolved on PATH.
func DefaultFinder() StaticFinder {
	return StaticFinder{
		{Path: "python3"},
		{Path: "python"},
	}
}

// ExecCheck probes whether an environment can execute notebook cells at
// all: the kernel module must be importable and report a version.
func ExecCheck(capture ports.CaptureFunc) ports.SupportCheck {
	return probe(capture, "-m", "ipykernel", "--version")
}

// KernelCheck probes whether a fresh kernel process can be created.
func KernelCheck(capture ports.CaptureFunc) ports.SupportCheck {
	return probe(capture, "-c", "import ipykernel_launcher")
}

// ImportCheck probes whether external notebook documents can be imported.
func ImportCheck(capture ports.CaptureFunc) ports.SupportCheck {
	return probe(capture, "-c", "import nbformat")
}

// Describe fills in version metadata for an environment by invoking its
// interpreter. Best effort: probe failures leave the descriptor untouched.
func Describe(ctx context.Context, capture ports.CaptureFunc, env domain.Environment) domain.Environment {
	stdout, stderr, err := capture(ctx, env.Path, []string{"--version"}, nil)
	if err != nil {
		return env
	}
	// Older interpreters print the version banner on stderr.
	banner := strings.TrimSpace(stdout)
	if banner == "" {
		banner = strings.TrimSpace(stderr)
	}
	env.Version = strings.TrimPrefix(banner, "Python ")
	return env
}

func probe(capture ports.CaptureFunc, args ...string) ports.SupportCheck {
	return func(ctx context.Context, env domain.Environment) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		_, _, err := capture(ctx, env.Path, args, nil)
		// A cancelled probe must surface the cancellation, never a
		// false negative.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return err == nil, nil
	}
}
