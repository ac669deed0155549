// Package transport carries discrete protocol frames between the
// client and one tool server. A frame is one newline-delimited JSON
// message; the framing rules live in Framer and every implementation
// shares them. Implementations exist for child processes, streaming
// HTTP, unix/tcp sockets, and websockets.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/toolmux/toolmux/config"
)

// Transport is a connection to one tool server moving whole frames.
// Implementations support one concurrent receiver plus any number of
// concurrent senders. Close is idempotent and unblocks a pending
// Receive.
type Transport interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error
	// Send writes one complete frame.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until the next complete frame arrives. After the
	// transport closes it returns ErrClosed.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the connection down, terminating any owned process.
	Close() error
}

// Sentinel errors shared by all implementations.
var (
	ErrClosed           = errors.New("transport is closed")
	ErrNotConnected     = errors.New("transport is not connected")
	ErrAlreadyConnected = errors.New("transport is already connected")
	ErrFrameTooLarge    = errors.New("frame exceeds size limit")
)

// Options configure a transport independent of its kind.
type Options struct {
	Logger      *slog.Logger
	DialTimeout time.Duration
	// HTTPClient overrides the client used by the http-stream
	// transport, mainly for tests.
	HTTPClient *http.Client
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the transport's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(d time.Duration) Option {
	return func(o *Options) { o.DialTimeout = d }
}

// WithHTTPClient sets the HTTP client used by stream transports.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.HTTPClient = c }
}

func buildOptions(opts []Option) *Options {
	o := &Options{
		Logger:      slog.Default(),
		DialTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New constructs the transport for a descriptor's kind. The descriptor
// must already be validated; New re-checks only what it needs to avoid
// undefined behavior.
func New(desc config.ServerDescriptor, opts ...Option) (Transport, error) {
	o := buildOptions(opts)
	switch desc.Transport {
	case config.TransportProcess:
		return newProcessTransport(desc, o), nil
	case config.TransportHTTPStream:
		return newStreamTransport(desc, o), nil
	case config.TransportSocket:
		return newSocketTransport(desc, o), nil
	case config.TransportWebSocket:
		return newWebSocketTransport(desc, o), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", desc.Transport)
	}
}
