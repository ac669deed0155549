// Package client implements the protocol client for one tool server:
// transport ownership, request/response correlation, the capability
// handshake, typed operations, and notification dispatch.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolmux/toolmux/config"
	"github.com/toolmux/toolmux/protocol"
	"github.com/toolmux/toolmux/transport"
)

// DefaultRequestTimeout bounds each in-flight request unless
// WithRequestTimeout overrides it.
const DefaultRequestTimeout = 30 * time.Second

// State is the connection lifecycle position. There is no way out of
// StateClosed; reconnecting means building a new client.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer receives the events a client can raise. Callbacks run on
// the client's reader goroutine and must not block; OnClose fires
// exactly once, whether the close was requested or the connection
// dropped.
type Observer interface {
	OnNotification(method string, params json.RawMessage)
	OnError(err error)
	OnClose()
}

// NopObserver ignores every event; it is the default.
type NopObserver struct{}

func (NopObserver) OnNotification(string, json.RawMessage) {}
func (NopObserver) OnError(error)                          {}
func (NopObserver) OnClose()                               {}

type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest resolves exactly once: whoever deletes the table
// entry owns delivery on the buffered channel.
type pendingRequest struct {
	method   string
	issuedAt time.Time
	ch       chan outcome
}

// Client is a protocol client for a single tool server. Safe for
// concurrent use; any number of requests may be in flight at once and
// responses correlate by id, not arrival order.
type Client struct {
	desc     config.ServerDescriptor
	logger   *slog.Logger
	observer Observer
	connID   string

	requestTimeout time.Duration
	clientInfo     protocol.Implementation
	capabilities   protocol.ClientCapabilities
	transportOpts  []transport.Option

	transport transport.Transport

	mu         sync.Mutex
	state      State
	nextID     protocol.RequestID
	pending    map[protocol.RequestID]*pendingRequest
	onProgress map[string]func(protocol.ProgressParams)

	negotiatedVersion string
	serverCaps        protocol.ServerCapabilities
	serverInfo        *protocol.Implementation

	readerStarted bool
	readerDone    chan struct{}
	closeOnce     sync.Once
}

// New builds a client for the descriptor. No I/O happens until
// Connect.
func New(desc config.ServerDescriptor, opts ...Option) *Client {
	c := &Client{
		desc:           desc,
		connID:         uuid.NewString()[:8],
		requestTimeout: DefaultRequestTimeout,
		clientInfo:     protocol.Implementation{Name: "toolmux", Version: "0.6.0"},
		observer:       NopObserver{},
		pending:        make(map[protocol.RequestID]*pendingRequest),
		onProgress:     make(map[string]func(protocol.ProgressParams)),
		readerDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("server", desc.Name, "conn", c.connID)
	return c
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.desc.Name }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady reports whether the handshake completed and the connection
// is usable.
func (c *Client) IsReady() bool { return c.State() == StateReady }

// ServerCapabilities returns what the server advertised during the
// handshake. Zero value before Ready.
func (c *Client) ServerCapabilities() protocol.ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCaps
}

// ServerInfo returns the server's identity from the handshake, or nil
// before Ready.
func (c *Client) ServerInfo() *protocol.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// NegotiatedVersion returns the protocol revision agreed during the
// handshake.
func (c *Client) NegotiatedVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiatedVersion
}

// Connect validates the descriptor, establishes the transport, and
// runs the handshake. The client is usable only after Connect returns
// nil; on any failure the transport is torn down and the client ends
// Closed.
func (c *Client) Connect(ctx context.Context) error {
	c.desc.Normalize()
	if err := c.desc.Validate(); err != nil {
		return NewConfigError(c.desc.Name, "invalid server descriptor", err)
	}

	c.mu.Lock()
	switch c.state {
	case StateIdle:
	case StateClosed, StateClosing:
		c.mu.Unlock()
		return ErrClientClosed
	default:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	if c.transport == nil {
		tr, err := transport.New(c.desc, append([]transport.Option{transport.WithLogger(c.logger)}, c.transportOpts...)...)
		if err != nil {
			c.state = StateClosed
			c.mu.Unlock()
			return NewConfigError(c.desc.Name, "building transport", err)
		}
		c.transport = tr
	}
	tr := c.transport
	c.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return NewConnectError(c.desc.Name, "establishing transport", err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the connect; honor it.
		c.mu.Unlock()
		_ = tr.Close()
		return ErrClientClosed
	}
	c.state = StateHandshaking
	c.readerStarted = true
	c.mu.Unlock()

	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.shutdown()
		return err
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
	c.logger.Info("connected",
		"version", c.NegotiatedVersion(),
		"serverInfo", c.ServerInfo())
	return nil
}

// handshake sends initialize, validates the reply, and completes with
// the initialized notification.
func (c *Client) handshake(ctx context.Context) error {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.CurrentProtocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.clientInfo,
	}
	raw, err := c.doRequest(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return NewHandshakeError(c.desc.Name, "initialize failed", err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return NewHandshakeError(c.desc.Name, "malformed initialize result", err)
	}
	version, err := protocol.NegotiateVersion(result.ProtocolVersion)
	if err != nil {
		return NewHandshakeError(c.desc.Name, "version negotiation failed", err)
	}

	c.mu.Lock()
	c.negotiatedVersion = version
	c.serverCaps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	notif, err := protocol.NewNotification(protocol.MethodInitialized, protocol.InitializedParams{})
	if err != nil {
		return NewHandshakeError(c.desc.Name, "encoding initialized notification", err)
	}
	if err := c.send(ctx, notif); err != nil {
		return NewHandshakeError(c.desc.Name, "sending initialized notification", err)
	}
	return nil
}

// SendRequest issues a raw request and blocks for its resolution. Most
// callers want the typed wrappers instead. Every request resolves
// exactly once: with the result, a RemoteError, a TimeoutError, a
// TransportError, or the context's error.
func (c *Client) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	return c.doRequest(ctx, method, params)
}

// doRequest is SendRequest without the Ready gate, used by the
// handshake while the client is still Handshaking.
func (c *Client) doRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateHandshaking && c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, NewNotConnectedError(state)
	}
	c.nextID++
	id := c.nextID
	p := &pendingRequest{method: method, issuedAt: time.Now(), ch: make(chan outcome, 1)}
	c.pending[id] = p
	version := c.negotiatedVersion
	c.mu.Unlock()

	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		c.forget(id)
		return nil, err
	}
	if version != "" {
		msg.ProtocolVersion = version
	}

	if err := c.send(ctx, msg); err != nil {
		c.forget(id)
		return nil, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		return out.result, out.err
	case <-timer.C:
		if c.forget(id) {
			c.logger.Warn("request timed out", "method", method, "id", int64(id), "timeout", c.requestTimeout)
			return nil, NewTimeoutError(method, c.requestTimeout)
		}
		// The response won the race; it is already in the channel.
		out := <-p.ch
		return out.result, out.err
	case <-ctx.Done():
		if c.forget(id) {
			return nil, ctx.Err()
		}
		out := <-p.ch
		return out.result, out.err
	}
}

// send marshals and writes one envelope. A write failure is a
// connection failure: the transport is torn down and every pending
// request fails.
func (c *Client) send(ctx context.Context, msg *protocol.Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.shutdown()
		return NewTransportError(c.desc.Name, "write failed", err)
	}
	return nil
}

// forget removes a pending entry, reporting whether the caller now
// owns its resolution.
func (c *Client) forget(id protocol.RequestID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// readLoop is the sole reader: it pumps frames, resolves pending
// requests, and dispatches notifications until the transport ends.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		frame, err := c.transport.Receive(context.Background())
		if err != nil {
			c.teardown(err)
			return
		}
		msg, err := protocol.ParseMessage(frame)
		if err != nil {
			c.logger.Warn("dropping unparseable frame", "error", err)
			c.observer.OnError(err)
			continue
		}
		switch msg.Kind() {
		case protocol.KindResponse:
			c.dispatchResponse(msg)
		case protocol.KindNotification:
			c.dispatchNotification(msg)
		case protocol.KindRequest:
			// Server-initiated requests are not part of this client's
			// contract; log and drop rather than fail the connection.
			c.logger.Debug("ignoring server-initiated request", "method", msg.Method)
		}
	}
}

func (c *Client) dispatchResponse(msg *protocol.Message) {
	id := *msg.ID
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		// Timed out or never ours; a late response is logged, not
		// delivered twice.
		c.logger.Debug("ignoring response with no pending request", "id", int64(id))
		return
	}
	if msg.Error != nil {
		p.ch <- outcome{err: NewRemoteError(p.method, msg.Error)}
		return
	}
	p.ch <- outcome{result: msg.Result}
}

func (c *Client) dispatchNotification(msg *protocol.Message) {
	if msg.Method == protocol.MethodNotifyProgress {
		var params protocol.ProgressParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			c.mu.Lock()
			handler := c.onProgress[params.ProgressToken]
			c.mu.Unlock()
			if handler != nil {
				handler(params)
				return
			}
		}
	}
	c.observer.OnNotification(msg.Method, msg.Params)
}

// teardown runs when the transport ends for any reason: it fails every
// pending request with a TransportError, marks the client Closed, and
// fires OnClose exactly once.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	deliberate := c.state == StateClosing
	c.state = StateClosed
	pend := c.pending
	c.pending = make(map[protocol.RequestID]*pendingRequest)
	c.mu.Unlock()

	reason := "connection lost"
	if deliberate {
		reason = "disconnected"
		cause = ErrDisconnected
	} else if errors.Is(cause, transport.ErrClosed) {
		cause = fmt.Errorf("%w: %v", ErrDisconnected, cause)
	}

	for _, p := range pend {
		p.ch <- outcome{err: NewTransportError(c.desc.Name, reason, cause)}
	}
	if len(pend) > 0 {
		c.logger.Warn("failed pending requests on close", "count", len(pend))
	}
	if !deliberate {
		c.logger.Warn("connection closed", "cause", cause)
	}

	c.closeOnce.Do(func() { c.observer.OnClose() })
}

// shutdown closes the transport and waits for the reader (and thus
// teardown) to finish. Used on handshake failure and write failure.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateClosing
	}
	wait := c.state == StateClosing && c.readerStarted
	c.mu.Unlock()
	_ = c.transport.Close()
	if wait {
		<-c.readerDone
	}
}

// Disconnect tears the connection down: the transport closes (killing
// an owned server process), every pending request fails with a
// TransportError, and the observer's OnClose fires. Idempotent and
// safe on a client that never connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return nil
	case StateIdle:
		c.state = StateClosed
		c.mu.Unlock()
		return nil
	case StateClosing:
		started := c.readerStarted
		c.mu.Unlock()
		if started {
			<-c.readerDone
		}
		return nil
	}
	started := c.readerStarted
	if started {
		c.state = StateClosing
	} else {
		// The reader never ran, so no teardown will; finish here.
		c.state = StateClosed
	}
	c.mu.Unlock()

	err := c.transport.Close()
	if started {
		<-c.readerDone
	}
	c.logger.Debug("disconnected")
	return err
}

func (c *Client) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return NewNotConnectedError(c.state)
	}
	return nil
}
