package client

import (
	"log/slog"
	"time"

	"github.com/toolmux/toolmux/protocol"
	"github.com/toolmux/toolmux/transport"
)

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger sets the structured logger. The client adds server and
// connection attributes to it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestTimeout bounds each in-flight request. Non-positive
// values are ignored.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithClientInfo sets the identity sent during the handshake.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		if name != "" {
			c.clientInfo = protocol.Implementation{Name: name, Version: version}
		}
	}
}

// WithCapabilities sets the capabilities advertised during the
// handshake.
func WithCapabilities(caps protocol.ClientCapabilities) Option {
	return func(c *Client) { c.capabilities = caps }
}

// WithObserver registers the event sink for notifications, errors,
// and the close event.
func WithObserver(obs Observer) Option {
	return func(c *Client) {
		if obs != nil {
			c.observer = obs
		}
	}
}

// WithTransport injects a pre-built transport instead of deriving one
// from the descriptor. The client still owns its lifecycle.
func WithTransport(tr transport.Transport) Option {
	return func(c *Client) { c.transport = tr }
}

// WithTransportOptions passes options through to the transport the
// client builds from its descriptor. Ignored when WithTransport is
// used.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Client) { c.transportOpts = append(c.transportOpts, opts...) }
}
