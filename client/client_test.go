package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/config"
	"github.com/toolmux/toolmux/protocol"
	"github.com/toolmux/toolmux/transport"
)

// fakeTransport is an in-memory Transport scripted by a handler that
// inspects each outgoing message and pushes replies.
type fakeTransport struct {
	handler func(f *fakeTransport, msg *protocol.Message)

	mu         sync.Mutex
	sent       []*protocol.Message
	connectErr error
	// connectHold, when set, blocks Connect until released or closed.
	connectHold chan struct{}

	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(handler func(f *fakeTransport, msg *protocol.Message)) *fakeTransport {
	return &fakeTransport{
		handler:  handler,
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectHold != nil {
		select {
		case <-f.connectHold:
		case <-f.done:
			return transport.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.connectErr
}

func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-f.done:
		return transport.ErrClosed
	default:
	}
	msg, err := protocol.ParseMessage(frame)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.handler != nil {
		f.handler(f, msg)
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.incoming:
		return frame, nil
	case <-f.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// push injects a frame as if the server had written it.
func (f *fakeTransport) push(msg *protocol.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	f.incoming <- frame
}

// pushRaw injects arbitrary bytes, valid or not.
func (f *fakeTransport) pushRaw(frame []byte) {
	f.incoming <- frame
}

func (f *fakeTransport) reply(msg *protocol.Message, result interface{}) {
	resp, err := protocol.NewSuccessResponse(*msg.ID, result)
	if err != nil {
		panic(err)
	}
	f.push(resp)
}

func (f *fakeTransport) replyError(msg *protocol.Message, code protocol.ErrorCode, text string) {
	f.push(protocol.NewErrorResponse(*msg.ID, code, text))
}

func (f *fakeTransport) sentMessages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// answerInitialize handles the handshake request; it returns false for
// everything else so tests can layer their own handling on top.
func answerInitialize(f *fakeTransport, msg *protocol.Message) bool {
	if msg.Kind() != protocol.KindRequest || msg.Method != protocol.MethodInitialize {
		return false
	}
	f.reply(msg, protocol.InitializeResult{
		ProtocolVersion: protocol.CurrentProtocolVersion,
		Capabilities: protocol.ServerCapabilities{
			Tools: &protocol.ToolsCapability{ListChanged: true},
		},
		ServerInfo: &protocol.Implementation{Name: "fake-server", Version: "1.2.3"},
	})
	return true
}

type recordingObserver struct {
	mu            sync.Mutex
	notifications []string
	errs          []error
	closes        int
}

func (r *recordingObserver) OnNotification(method string, params json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, method)
}

func (r *recordingObserver) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingObserver) OnClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func (r *recordingObserver) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

func (r *recordingObserver) methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notifications))
	copy(out, r.notifications)
	return out
}

func (r *recordingObserver) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func testDescriptor() config.ServerDescriptor {
	return config.ServerDescriptor{
		Name:      "fake",
		Transport: config.TransportProcess,
		Command:   "fake-server",
	}
}

func newReadyClient(t *testing.T, handler func(f *fakeTransport, msg *protocol.Message), opts ...Option) (*Client, *fakeTransport, *recordingObserver) {
	t.Helper()
	fake := newFakeTransport(func(f *fakeTransport, msg *protocol.Message) {
		if answerInitialize(f, msg) {
			return
		}
		if handler != nil {
			handler(f, msg)
		}
	})
	obs := &recordingObserver{}
	opts = append([]Option{WithTransport(fake), WithObserver(obs), WithRequestTimeout(2 * time.Second)}, opts...)
	c := New(testDescriptor(), opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, fake, obs
}

func TestConnectRunsHandshake(t *testing.T) {
	c, fake, _ := newReadyClient(t, nil, WithClientInfo("test-client", "9.9.9"))

	assert.Equal(t, StateReady, c.State())
	assert.True(t, c.IsReady())
	assert.Equal(t, protocol.CurrentProtocolVersion, c.NegotiatedVersion())
	require.NotNil(t, c.ServerInfo())
	assert.Equal(t, "fake-server", c.ServerInfo().Name)
	require.NotNil(t, c.ServerCapabilities().Tools)
	assert.True(t, c.ServerCapabilities().Tools.ListChanged)

	sent := fake.sentMessages()
	require.Len(t, sent, 2)

	assert.Equal(t, protocol.MethodInitialize, sent[0].Method)
	require.NotNil(t, sent[0].ID)
	var params protocol.InitializeParams
	require.NoError(t, json.Unmarshal(sent[0].Params, &params))
	assert.Equal(t, "test-client", params.ClientInfo.Name)
	assert.Equal(t, protocol.CurrentProtocolVersion, params.ProtocolVersion)

	assert.Equal(t, protocol.MethodInitialized, sent[1].Method)
	assert.Nil(t, sent[1].ID, "initialized must be a notification")
}

func TestConnectRejectsUnsupportedVersion(t *testing.T) {
	fake := newFakeTransport(func(f *fakeTransport, msg *protocol.Message) {
		if msg.Method == protocol.MethodInitialize {
			f.reply(msg, protocol.InitializeResult{ProtocolVersion: "1999-01-01"})
		}
	})
	c := New(testDescriptor(), WithTransport(fake))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsHandshakeError(err))
	assert.Equal(t, StateClosed, c.State())
}

func TestConnectHandshakeTimeout(t *testing.T) {
	// A server that accepts the connection but never answers.
	fake := newFakeTransport(nil)
	c := New(testDescriptor(), WithTransport(fake), WithRequestTimeout(50*time.Millisecond))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsHandshakeError(err))
	assert.True(t, errors.Is(err, ErrRequestTimeout))
	assert.Equal(t, StateClosed, c.State())
}

func TestConnectFailurePropagates(t *testing.T) {
	fake := newFakeTransport(nil)
	fake.connectErr = errors.New("connection refused")
	c := New(testDescriptor(), WithTransport(fake))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectError(err))
	assert.Equal(t, StateClosed, c.State())
}

func TestConnectValidatesDescriptor(t *testing.T) {
	c := New(config.ServerDescriptor{Name: "bad name_here", Transport: config.TransportProcess, Command: "x"})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestResponsesCorrelateOutOfOrder(t *testing.T) {
	var mu sync.Mutex
	var held []*protocol.Message
	c, _, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Kind() != protocol.KindRequest {
			return
		}
		mu.Lock()
		held = append(held, msg)
		if len(held) < 2 {
			mu.Unlock()
			return
		}
		first, second := held[0], held[1]
		mu.Unlock()
		// Answer in reverse arrival order; each response echoes the
		// method of the request it answers.
		f.reply(second, map[string]string{"method": second.Method})
		f.reply(first, map[string]string{"method": first.Method})
	})

	call := func(method string) error {
		raw, err := c.SendRequest(context.Background(), method, nil)
		if err != nil {
			return err
		}
		var body struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return err
		}
		if body.Method != method {
			return errors.New("got a response meant for " + body.Method)
		}
		return nil
	}

	errs := make(chan error, 2)
	go func() { errs <- call(protocol.MethodPing) }()
	go func() { errs <- call(protocol.MethodListTools) }()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
}

func TestRequestTimeoutThenLateResponseIgnored(t *testing.T) {
	c, fake, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Method != protocol.MethodPing {
			return
		}
		go func() {
			time.Sleep(150 * time.Millisecond)
			f.reply(msg, map[string]string{"late": "yes"})
		}()
	}, WithRequestTimeout(40*time.Millisecond))

	_, err := c.SendRequest(context.Background(), protocol.MethodPing, nil)
	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))
	assert.True(t, errors.Is(err, ErrRequestTimeout))

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, protocol.MethodPing, te.Method)

	// The late response arrives, is ignored, and leaves no pending state.
	time.Sleep(200 * time.Millisecond)
	c.mu.Lock()
	remaining := len(c.pending)
	c.mu.Unlock()
	assert.Zero(t, remaining)
	assert.Equal(t, StateReady, c.State(), "late responses must not disturb the connection")
	_ = fake
}

func TestContextCancelAbandonsRequest(t *testing.T) {
	c, _, _ := newReadyClient(t, nil) // never answers ping

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.SendRequest(ctx, protocol.MethodPing, nil)
	require.ErrorIs(t, err, context.Canceled)

	c.mu.Lock()
	remaining := len(c.pending)
	c.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestRemoteErrorCarriesCodeAndMethod(t *testing.T) {
	c, _, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Method == protocol.MethodCallTool {
			f.replyError(msg, protocol.ErrorCodeMethodNotFound, "no such method")
		}
	})

	_, err := c.CallTool(context.Background(), "anything", nil)
	require.Error(t, err)
	assert.True(t, IsRemoteError(err))

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, protocol.ErrorCodeMethodNotFound, re.Code)
	assert.Equal(t, protocol.MethodCallTool, re.Method)
	assert.Contains(t, re.Error(), "no such method")
}

func TestTransportDropFailsAllPending(t *testing.T) {
	c, fake, obs := newReadyClient(t, nil) // never answers ping

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := c.SendRequest(context.Background(), protocol.MethodPing, nil)
			errs <- err
		}()
	}
	// Give the requests time to register, then drop the connection.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pending) == 3
	}, time.Second, 5*time.Millisecond)
	_ = fake.Close()

	for i := 0; i < 3; i++ {
		err := <-errs
		require.Error(t, err)
		assert.True(t, IsTransportError(err))
		assert.True(t, errors.Is(err, ErrDisconnected))
	}
	assert.Equal(t, StateClosed, c.State())
	require.Eventually(t, func() bool { return obs.closeCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNotificationsReachObserver(t *testing.T) {
	c, fake, obs := newReadyClient(t, nil)

	notif, err := protocol.NewNotification(protocol.MethodNotifyToolsListChanged, nil)
	require.NoError(t, err)
	fake.push(notif)

	require.Eventually(t, func() bool {
		methods := obs.methods()
		return len(methods) == 1 && methods[0] == protocol.MethodNotifyToolsListChanged
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateReady, c.State())
}

func TestMalformedFrameIsDroppedNotFatal(t *testing.T) {
	c, fake, obs := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Method == protocol.MethodPing {
			f.reply(msg, map[string]string{})
		}
	})

	fake.pushRaw([]byte("{this is not json"))
	require.Eventually(t, func() bool { return obs.errCount() == 1 }, time.Second, 5*time.Millisecond)

	// The connection survives and still serves requests.
	require.NoError(t, c.Ping(context.Background()))
}

func TestRequestsRequireReady(t *testing.T) {
	c := New(testDescriptor())

	_, err := c.CallTool(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, IsNotConnectedError(err))
	assert.True(t, errors.Is(err, ErrNotConnected))

	var nce *NotConnectedError
	require.True(t, errors.As(err, &nce))
	assert.Equal(t, StateIdle, nce.State)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c, _, obs := newReadyClient(t, nil)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, obs.closeCount())

	// A closed client cannot reconnect.
	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrClientClosed)
}

func TestDisconnectDuringConnectDoesNotHang(t *testing.T) {
	fake := newFakeTransport(nil)
	fake.connectHold = make(chan struct{})

	c := New(testDescriptor(), WithTransport(fake))

	connectErr := make(chan error, 1)
	go func() { connectErr <- c.Connect(context.Background()) }()
	require.Eventually(t, func() bool {
		return c.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)

	disconnected := make(chan error, 1)
	go func() { disconnected <- c.Disconnect() }()

	select {
	case err := <-disconnected:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect hung while Connect was still dialing")
	}

	err := <-connectErr
	require.Error(t, err)
	assert.True(t, IsConnectError(err))
	assert.Equal(t, StateClosed, c.State())
}

func TestDisconnectFailsInFlightRequests(t *testing.T) {
	c, _, _ := newReadyClient(t, nil) // never answers ping

	errCh := make(chan error, 1)
	go func() {
		_, err := c.SendRequest(context.Background(), protocol.MethodPing, nil)
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pending) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())
	err := <-errCh
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.True(t, errors.Is(err, ErrDisconnected))
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	c, fake, _ := newReadyClient(t, func(f *fakeTransport, msg *protocol.Message) {
		if msg.Kind() == protocol.KindRequest && msg.Method != protocol.MethodInitialize {
			f.reply(msg, map[string]string{})
		}
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Ping(context.Background()))
	}

	var last protocol.RequestID
	for _, msg := range fake.sentMessages() {
		if msg.ID == nil {
			continue
		}
		assert.Greater(t, int64(*msg.ID), int64(last), "ids must strictly increase")
		last = *msg.ID
	}
}
