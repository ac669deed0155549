package manager

import (
	"log/slog"
	"time"
)

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger sets the structured logger shared with every client the
// manager builds.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPrefix changes the namespacing prefix from the default "mcp".
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithRequestTimeout sets the per-request timeout passed to clients.
// A configuration file's timeout setting overrides it.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithRetryPolicy replaces the connect retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.retry = p }
}

// WithClientInfo sets the identity clients present during handshakes.
func WithClientInfo(name, version string) Option {
	return func(m *Manager) {
		m.clientName = name
		m.clientVersion = version
	}
}

// WithDialer replaces how connections are built, primarily for tests.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}
