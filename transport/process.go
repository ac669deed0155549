package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/toolmux/toolmux/config"
)

// processTransport runs the server as a child process and speaks
// frames over its stdin/stdout. stderr is drained to the logger and
// never parsed as protocol data. The transport owns the process: Close
// guarantees termination.
type processTransport struct {
	command string
	args    []string
	env     map[string]string
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	framer    *Framer
	cancel    context.CancelFunc
	waitDone  chan struct{} // closed when cmd.Wait returns
}

func newProcessTransport(desc config.ServerDescriptor, o *Options) *processTransport {
	return &processTransport{
		command: desc.Command,
		args:    desc.Args,
		env:     desc.Env,
		logger:  o.Logger.With("transport", "process", "command", desc.Command),
	}
}

func (t *processTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return ErrAlreadyConnected
	}

	// The process lives beyond Connect's ctx; its lifetime is bound to
	// Close through this cancel.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, t.command, t.args...)
	cmd.Env = mergedEnv(t.env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.framer = NewFramer(stdout, stdin)
	t.cancel = cancel
	t.waitDone = make(chan struct{})
	t.connected = true

	go t.drainStderr(stderr)
	go func() {
		err := cmd.Wait()
		if err != nil && !errors.Is(procCtx.Err(), context.Canceled) {
			t.logger.Warn("server process exited", "error", err)
		} else {
			t.logger.Debug("server process exited")
		}
		close(t.waitDone)
	}()

	t.logger.Debug("server process started", "pid", cmd.Process.Pid)
	return nil
}

func (t *processTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	framer, connected, closed := t.framer, t.connected, t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !connected {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := framer.WriteFrame(frame); err != nil {
		return fmt.Errorf("write to server process: %w", err)
	}
	return nil
}

func (t *processTransport) Receive(ctx context.Context) ([]byte, error) {
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
		// Pipe EOF means the process exited or Close ran; either way
		// the connection is gone.
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return nil, ErrClosed
		}
		if errors.Is(err, ErrFrameTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("read from server process: %w", err)
	}
	return frame, nil
}

// Close terminates the child process and waits for it to be reaped.
// Safe to call repeatedly and concurrently with Receive.
func (t *processTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	connected := t.connected
	t.connected = false
	stdin, cancel, waitDone := t.stdin, t.cancel, t.waitDone
	t.mu.Unlock()

	if !connected {
		return nil
	}
	// Closing stdin gives a well-behaved server a chance to exit before
	// the context cancel kills it.
	if stdin != nil {
		_ = stdin.Close()
	}
	if cancel != nil {
		cancel()
	}
	if waitDone != nil {
		<-waitDone
	}
	return nil
}

func (t *processTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		t.logger.Debug("server stderr", "line", scanner.Text())
	}
}

// mergedEnv layers the configured entries over the host environment.
func mergedEnv(env map[string]string) []string {
	merged := os.Environ()
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	return merged
}
