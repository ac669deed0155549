package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"
)

// MaxFrameBytes caps a single protocol message. Lines beyond the cap
// poison the stream (the delimiter position is lost), so exceeding it
// is a connection-fatal error rather than a droppable line.
const MaxFrameBytes = 10 << 20

// Framer reads and writes newline-delimited frames over a byte stream.
// Partial lines are buffered across reads until the delimiter arrives.
// Blank lines are skipped. The writer is safe for concurrent use; the
// reader expects a single consumer.
type Framer struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer
}

// NewFramer wraps a read/write pair.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{r: bufio.NewReader(r), w: w}
}

// ReadFrame returns the next non-blank line without its delimiter. At
// stream end a non-empty unterminated tail is returned as a final
// frame; the next call reports the stream error.
func (f *Framer) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		frame = append(frame, chunk...)
		if len(frame) > MaxFrameBytes {
			return nil, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, len(frame))
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if tail := bytes.TrimSpace(frame); len(tail) > 0 {
				return tail, nil
			}
			return nil, err
		}
		line := bytes.TrimSpace(frame)
		if len(line) == 0 {
			frame = frame[:0]
			continue
		}
		return line, nil
	}
}

// WriteFrame writes one frame followed by the delimiter in a single
// Write call. Frames must not contain raw newlines; JSON encoding
// never produces them.
func (f *Framer) WriteFrame(frame []byte) error {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return fmt.Errorf("refusing to write empty frame")
	}
	if len(frame) > MaxFrameBytes {
		return fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, len(frame))
	}
	if bytes.IndexByte(frame, '\n') >= 0 {
		return fmt.Errorf("frame contains embedded newline")
	}
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')

	f.wmu.Lock()
	defer f.wmu.Unlock()
	_, err := f.w.Write(buf)
	return err
}
