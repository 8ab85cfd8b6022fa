package kernel

import (
	"log/slog"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
)

// Option defines a functional option for configuring a Session.
type Option func(*Session)

// WithLogger sets a structured logger for the session.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *Session) {
		s.hooks = hooks
	}
}

// WithStore enables session record persistence.
func WithStore(store ports.StateStore) Option {
	return func(s *Session) {
		s.store = store
	}
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}
