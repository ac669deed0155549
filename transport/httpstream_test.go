package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolmux/toolmux/config"
)

// sseServer is a minimal stream endpoint: the GET holds an event
// stream, posted frames are answered either inline (200) or over the
// stream (202), chosen per test.
type sseServer struct {
	answerOnStream bool
	sessionID      string

	mu     sync.Mutex
	stream chan string
	posts  []string
}

func newSSEServer(answerOnStream bool) *sseServer {
	return &sseServer{
		answerOnStream: answerOnStream,
		sessionID:      "sess-1",
		stream:         make(chan string, 16),
	}
}

func (s *sseServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set(sessionHeader, s.sessionID)
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()
		for {
			select {
			case payload, ok := <-s.stream:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.posts = append(s.posts, r.Header.Get(sessionHeader))
		s.mu.Unlock()
		if s.answerOnStream {
			s.stream <- fmt.Sprintf(`{"id":1,"result":{"echo":%q}}`, string(body))
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":1,"result":{"echo":%q}}`, string(body))
	}
}

func newStreamTransportForTest(t *testing.T, url string) Transport {
	t.Helper()
	tr, err := New(config.ServerDescriptor{
		Name:      "stream",
		Transport: config.TransportHTTPStream,
		URL:       url,
		Headers:   map[string]string{"X-Team": "core"},
	})
	require.NoError(t, err)
	return tr
}

func TestStreamTransportInlineResponse(t *testing.T) {
	backend := newSSEServer(false)
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newStreamTransportForTest(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	require.NoError(t, tr.Send(ctx, []byte(`{"id":1,"method":"ping"}`)))
	frame, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), "echo")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.posts, 1)
	assert.Equal(t, "sess-1", backend.posts[0], "session id from the stream is echoed on posts")
}

func TestStreamTransportAsyncResponse(t *testing.T) {
	backend := newSSEServer(true)
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newStreamTransportForTest(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	require.NoError(t, tr.Send(ctx, []byte(`{"id":1,"method":"ping"}`)))
	frame, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(frame), "echo", "202-accepted posts are answered over the stream")
}

func TestStreamTransportConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := newStreamTransportForTest(t, srv.URL)
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestStreamTransportServerDropBecomesClosed(t *testing.T) {
	backend := newSSEServer(true)
	srv := httptest.NewServer(backend)
	defer srv.Close()

	tr := newStreamTransportForTest(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	close(backend.stream)
	srv.CloseClientConnections()

	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
