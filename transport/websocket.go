package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/toolmux/toolmux/config"
)

// wsTransport speaks frames over a websocket connection, one protocol
// message per text frame. Ping/pong and close frames are handled by
// the wsutil helpers.
type wsTransport struct {
	url     string
	headers map[string]string
	opts    *Options
	logger  *slog.Logger

	mu        sync.Mutex
	conn      net.Conn
	rw        io.ReadWriter
	connected bool
	closed    bool
	wmu       sync.Mutex
}

func newWebSocketTransport(desc config.ServerDescriptor, o *Options) *wsTransport {
	return &wsTransport{
		url:     desc.URL,
		headers: desc.Headers,
		opts:    o,
		logger:  o.Logger.With("transport", "websocket", "url", desc.URL),
	}
}

func (t *wsTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return ErrAlreadyConnected
	}

	header := make(http.Header, len(t.headers))
	for k, v := range t.headers {
		header.Set(k, v)
	}
	dialer := ws.Dialer{
		Timeout: t.opts.DialTimeout,
		Header:  ws.HandshakeHeaderHTTP(header),
	}

	conn, br, _, err := dialer.Dial(ctx, t.url)
	if err != nil {
		return fmt.Errorf("dial websocket %s: %w", t.url, err)
	}

	t.conn = conn
	// Dial may hand back buffered bytes the server sent right after the
	// handshake; they must be consumed before reading the conn. The
	// read path also writes (wsutil replies to pings with pongs), and
	// those writes must not split a frame Send is writing, so they go
	// through the same write lock.
	r := io.Reader(conn)
	if br != nil {
		r = br
	}
	t.rw = struct {
		io.Reader
		io.Writer
	}{r, &lockedWriter{mu: &t.wmu, w: conn}}
	t.connected = true
	t.logger.Debug("websocket connected")
	return nil
}

func (t *wsTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	conn, connected, closed := t.conn, t.connected, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if deadline, has := ctx.Deadline(); has {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, frame); err != nil {
		return fmt.Errorf("write websocket frame: %w", err)
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	rw, connected, closed := t.rw, t.connected, t.closed
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

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			var closedErr wsutil.ClosedError
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.As(err, &closedErr) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("read websocket frame: %w", err)
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		if len(data) > MaxFrameBytes {
			return nil, ErrFrameTooLarge
		}
		return data, nil
	}
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	// Best effort close frame so well-behaved peers tear down cleanly.
	t.wmu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteFrame(conn, ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
	t.wmu.Unlock()
	return conn.Close()
}

// lockedWriter serializes the control-frame replies written from the
// read path with the data frames Send writes.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

var _ Transport = (*wsTransport)(nil)
var _ Transport = (*processTransport)(nil)
var _ Transport = (*socketTransport)(nil)
var _ Transport = (*streamTransport)(nil)
