package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/toolmux/toolmux/config"
)

// socketTransport speaks frames over a unix or tcp socket. The address
// comes from the descriptor URL: "unix:///path", "tcp://host:port", or
// a bare filesystem path (treated as unix).
type socketTransport struct {
	network     string
	address     string
	dialTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	conn      net.Conn
	framer    *Framer
	connected bool
	closed    bool
}

func newSocketTransport(desc config.ServerDescriptor, o *Options) *socketTransport {
	network, address := parseSocketURL(desc.URL)
	return &socketTransport{
		network:     network,
		address:     address,
		dialTimeout: o.DialTimeout,
		logger:      o.Logger.With("transport", "socket", "address", address),
	}
}

func parseSocketURL(raw string) (network, address string) {
	switch {
	case strings.HasPrefix(raw, "unix://"):
		return "unix", strings.TrimPrefix(raw, "unix://")
	case strings.HasPrefix(raw, "tcp://"):
		return "tcp", strings.TrimPrefix(raw, "tcp://")
	default:
		return "unix", raw
	}
}

func (t *socketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return ErrAlreadyConnected
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, t.network, t.address)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", t.network, t.address, err)
	}
	t.conn = conn
	t.framer = NewFramer(conn, conn)
	t.connected = true
	t.logger.Debug("socket connected")
	return nil
}

func (t *socketTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn, framer := t.conn, t.framer
	connected, closed := t.connected, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}
	if deadline, has := ctx.Deadline(); has {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := framer.WriteFrame(frame); err != nil {
		return fmt.Errorf("write to socket: %w", err)
	}
	return nil
}

func (t *socketTransport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	framer, connected, closed := t.framer, t.connected, t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if !connected {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame, err := framer.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		if errors.Is(err, ErrFrameTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("read from socket: %w", err)
	}
	return frame, nil
}

func (t *socketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
