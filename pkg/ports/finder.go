package ports

import (
	"context"

	"github.com/aretw0/kiln/pkg/domain"
)

// Finder enumerates candidate runtime environments. The list order is
// significant: the first qualifying environment wins.
type Finder interface {
	Environments(ctx context.Context) ([]domain.Environment, error)
}

// SupportCheck probes whether one environment supports a capability.
// It must honor context cancellation: a cancelled probe returns the
// context error, never a false negative.
type SupportCheck func(ctx context.Context, env domain.Environment) (bool, error)
