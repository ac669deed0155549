package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/toolmux/toolmux/config"
)

// sessionHeader carries the server-assigned session id from the stream
// response to subsequent posts.
const sessionHeader = "Mcp-Session-Id"

// streamTransport speaks frames over HTTP: a long-lived GET delivers
// server-to-client messages as server-sent events, and each
// client-to-server frame is POSTed to the same URL. A POST may be
// answered immediately (200 with a JSON body) or asynchronously on the
// stream (202); both paths feed Receive.
type streamTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	sessionID string
	cancel    context.CancelFunc

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newStreamTransport(desc config.ServerDescriptor, o *Options) *streamTransport {
	client := o.HTTPClient
	if client == nil {
		// No overall timeout: the GET holds a stream open indefinitely.
		client = &http.Client{}
	}
	return &streamTransport{
		url:     desc.URL,
		headers: desc.Headers,
		client:  client,
		logger:  o.Logger.With("transport", "http-stream", "url", desc.URL),
		frames:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (t *streamTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return ErrAlreadyConnected
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("stream endpoint returned %s", resp.Status)
	}
	if resp.Body == nil {
		cancel()
		return fmt.Errorf("stream endpoint returned no body")
	}

	t.sessionID = resp.Header.Get(sessionHeader)
	t.cancel = cancel
	t.connected = true
	go t.readStream(resp.Body)

	t.logger.Debug("stream connected", "session", t.sessionID)
	return nil
}

// readStream parses server-sent events. Data lines accumulate until a
// blank line terminates the event; comment lines (leading ':') and
// ping events are discarded.
func (t *streamTransport) readStream(body io.ReadCloser) {
	defer body.Close()
	defer t.markClosed()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameBytes)

	var event string
	var data [][]byte
	flush := func() {
		if len(data) == 0 {
			event = ""
			return
		}
		payload := bytes.Join(data, []byte("\n"))
		event, data = "", nil
		select {
		case t.frames <- payload:
		case <-t.done:
		}
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if event == "ping" {
				event, data = "", nil
				continue
			}
			flush()
		case line[0] == ':':
			// comment / keep-alive
		case bytes.HasPrefix(line, []byte("event:")):
			event = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			d := bytes.TrimPrefix(line, []byte("data:"))
			if len(d) > 0 && d[0] == ' ' {
				d = d[1:]
			}
			data = append(data, append([]byte(nil), d...))
		default:
			// id: and retry: fields are irrelevant to this protocol
		}
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("stream ended", "error", err)
	}
}

func (t *streamTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	connected, closed := t.connected, t.closed
	session := t.sessionID
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("build post: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post frame: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		// Response, if any, arrives on the stream.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFrameBytes))
		if err != nil {
			return fmt.Errorf("read post response: %w", err)
		}
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
			select {
			case t.frames <- trimmed:
			case <-t.done:
				return ErrClosed
			}
		}
		return nil
	default:
		return fmt.Errorf("server returned %s", resp.Status)
	}
}

func (t *streamTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.frames:
		return frame, nil
	case <-t.done:
		// Drain frames queued before the stream ended.
		select {
		case frame := <-t.frames:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.connected = false
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.markClosed()
	return nil
}

func (t *streamTransport) markClosed() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *streamTransport) applyHeaders(req *http.Request) {
	for k, v := range t.headers {
		if strings.TrimSpace(k) != "" {
			req.Header.Set(k, v)
		}
	}
}
