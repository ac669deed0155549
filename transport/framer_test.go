package transport

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader yields input in fixed-size chunks to exercise partial
// line buffering.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestFramerReassemblesAcrossChunks(t *testing.T) {
	input := `{"protocolVersion":"2025-03-26","id":1,"result":{"tools":[]}}` + "\n" +
		`{"protocolVersion":"2025-03-26","method":"notifications/progress"}` + "\n"
	f := NewFramer(&chunkReader{data: []byte(input), size: 7}, io.Discard)

	first, err := f.ReadFrame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"protocolVersion":"2025-03-26","id":1,"result":{"tools":[]}}`, string(first))

	second, err := f.ReadFrame()
	require.NoError(t, err)
	assert.Contains(t, string(second), "notifications/progress")

	_, err = f.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramerSkipsBlankLines(t *testing.T) {
	input := "\n\n  \n{\"id\":1,\"result\":{}}\n\n"
	f := NewFramer(strings.NewReader(input), io.Discard)

	frame, err := f.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"result":{}}`, string(frame))
}

func TestFramerReturnsUnterminatedTail(t *testing.T) {
	f := NewFramer(strings.NewReader(`{"id":1,"result":{}}`), io.Discard)

	frame, err := f.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"result":{}}`, string(frame))

	_, err = f.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFramerRejectsOversizeFrame(t *testing.T) {
	huge := strings.Repeat("x", MaxFrameBytes+2)
	f := NewFramer(strings.NewReader(huge+"\n"), io.Discard)

	_, err := f.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestFramerWriteAppendsDelimiter(t *testing.T) {
	var buf bytes.Buffer
	f := NewFramer(strings.NewReader(""), &buf)

	require.NoError(t, f.WriteFrame([]byte(`{"id":1,"method":"ping"}`)))
	assert.Equal(t, `{"id":1,"method":"ping"}`+"\n", buf.String())

	require.Error(t, f.WriteFrame([]byte("a\nb")), "embedded newlines are rejected")
	require.Error(t, f.WriteFrame([]byte("  ")), "blank frames are rejected")
}
