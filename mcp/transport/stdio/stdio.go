// Package stdio implements transport.Transport over the stdin and stdout of a
// child process, one JSON-RPC message per line.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/mcp/transport"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot/mcp/transport", "stdio")

const (
	// MaxFrameBytes caps a single JSON-RPC line read from the server.
	MaxFrameBytes = 8 << 20
	// DefaultShutdownGrace is how long Close waits for the process to exit
	// after stdin is closed before killing it.
	DefaultShutdownGrace = 3 * time.Second

	stderrTailBytes = 4096
)

// ErrProcessExited is returned by Send once the server process is gone.
var ErrProcessExited = errors.New("server process exited")

// Launch describes the child process.
type Launch struct {
	Command string
	Args    []string
	// Env is the full environment of the child in KEY=VALUE form.
	// Empty means inherit the current process environment.
	Env []string
	Dir string
}

// Transport is a transport.Transport backed by a child process.
type Transport struct {
	launch Launch
	grace  time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tailBuffer

	writeLock sync.Mutex
	lock      sync.RWMutex

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()

	started   bool
	exited    chan struct{}
	waitErr   error
	closeOnce sync.Once
	notify    sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New returns a transport for the given launch description.
// The process is spawned by Start.
func New(launch Launch) *Transport {
	return &Transport{
		launch: launch,
		grace:  DefaultShutdownGrace,
		stderr: &tailBuffer{max: stderrTailBytes},
		exited: make(chan struct{}),
	}
}

// WithShutdownGrace overrides DefaultShutdownGrace.
func (t *Transport) WithShutdownGrace(d time.Duration) *Transport {
	t.grace = d
	return t
}

// Start implements Transport.Start by spawning the process.
func (t *Transport) Start(ctx context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.started {
		return errors.New("transport already started")
	}

	cmd := exec.Command(t.launch.Command, t.launch.Args...)
	if len(t.launch.Env) > 0 {
		cmd.Env = t.launch.Env
	}
	cmd.Dir = t.launch.Dir
	cmd.Stderr = t.stderr
	cmd.WaitDelay = t.grace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to open stdout")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "failed to start %q", t.launch.Command)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.started = true

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "started",
		"command", t.launch.Command,
		"pid", cmd.Process.Pid,
	)

	go t.readLoop(stdout)
	return nil
}

func (t *Transport) readLoop(stdout io.Reader) {
	defer func() {
		t.waitErr = t.cmd.Wait()
		close(t.exited)
		t.notifyClose()
	}()

	r := bufio.NewReaderSize(stdout, 64*1024)
	ctx := context.Background()
	for {
		line, err := readFrame(r)
		if len(line) > 0 {
			t.dispatch(ctx, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				t.handleError(errors.Wrap(err, "read failed"))
			}
			return
		}
	}
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		frag, err := r.ReadSlice('\n')
		buf.Write(frag)
		if buf.Len() > MaxFrameBytes {
			return nil, errors.Errorf("frame exceeds %d bytes", MaxFrameBytes)
		}
		if err == nil {
			return buf.Bytes(), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf.Bytes(), err
	}
}

func (t *Transport) dispatch(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	msg, err := transport.ParseMessage(line)
	if err != nil {
		// servers commonly log banners to stdout
		logger.KV(xlog.DEBUG,
			"status", "skip_line",
			"command", t.launch.Command,
			"line", slices.StringUpto(string(line), 128),
		)
		return
	}

	t.lock.RLock()
	handler := t.messageHandler
	t.lock.RUnlock()

	if handler != nil {
		handler(ctx, msg)
	}
}

// Send implements Transport.Send.
func (t *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	data = append(data, '\n')

	t.lock.RLock()
	stdin := t.stdin
	t.lock.RUnlock()
	if stdin == nil {
		return errors.New("transport not started")
	}

	select {
	case <-t.exited:
		return errors.Mark(errors.Errorf("server process exited: %s", t.Stderr()), ErrProcessExited)
	default:
	}

	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	if _, err := stdin.Write(data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// Close implements Transport.Close. It closes stdin, waits for the process
// to exit and kills it after the shutdown grace period.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.lock.RLock()
		started := t.started
		t.lock.RUnlock()
		if !started {
			t.notifyClose()
			return
		}

		_ = t.stdin.Close()

		select {
		case <-t.exited:
		case <-time.After(t.grace):
			logger.KV(xlog.DEBUG, "status", "kill", "command", t.launch.Command, "pid", t.cmd.Process.Pid)
			_ = t.cmd.Process.Kill()
			select {
			case <-t.exited:
			case <-time.After(t.grace):
				// a grandchild may still hold stdout open
				_ = t.stdout.Close()
				<-t.exited
			}
		}

		var exitErr *exec.ExitError
		if t.waitErr != nil && !errors.As(t.waitErr, &exitErr) {
			err = errors.Wrap(t.waitErr, "failed to wait for server process")
		}
	})
	return err
}

// Exited is closed when the process has exited and stdout is drained.
func (t *Transport) Exited() <-chan struct{} {
	return t.exited
}

// Stderr returns the tail of the process standard error.
func (t *Transport) Stderr() string {
	return t.stderr.String()
}

func (t *Transport) notifyClose() {
	t.notify.Do(func() {
		t.lock.RLock()
		handler := t.closeHandler
		t.lock.RUnlock()
		if handler != nil {
			handler()
		}
	})
}

func (t *Transport) handleError(err error) {
	t.lock.RLock()
	handler := t.errorHandler
	t.lock.RUnlock()
	if handler != nil {
		handler(err)
	} else {
		logger.KV(xlog.ERROR, "command", t.launch.Command, "err", err.Error())
	}
}

// SetCloseHandler implements Transport.SetCloseHandler.
func (t *Transport) SetCloseHandler(handler func()) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closeHandler = handler
}

// SetErrorHandler implements Transport.SetErrorHandler.
func (t *Transport) SetErrorHandler(handler func(error)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.errorHandler = handler
}

// SetMessageHandler implements Transport.SetMessageHandler.
func (t *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.messageHandler = handler
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}
