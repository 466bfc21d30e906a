package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	stdioCloseGrace = 2 * time.Second
	stderrTailBytes = 4096
	maxLineBytes    = 16 << 20
)

// stdioTransport speaks newline-delimited JSON-RPC with a child process.
type stdioTransport struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *io.PipeReader
	stderr *tailBuffer
	lines  chan []byte
	done   chan struct{} // closed when the process has exited
	closed chan struct{}

	mu        sync.Mutex // one request in flight
	closeOnce sync.Once
	waitErr   error
	logger    *slog.Logger
}

// startStdio launches the server process. Env entries are appended to the
// current environment.
func startStdio(name string, sc ServerConfig, logger *slog.Logger) (*stdioTransport, error) {
	if sc.Command == "" {
		return nil, fmt.Errorf("server %s: no command configured", name)
	}
	cmd := exec.Command(sc.Command, sc.Args...)
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(sc.Env))
	for k := range sc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+sc.Env[k])
	}
	cmd.WaitDelay = stdioCloseGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("server %s: stdin pipe: %w", name, err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pw.Close()
		return nil, fmt.Errorf("server %s: start %s: %w", name, sc.Command, err)
	}

	t := &stdioTransport{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: pr,
		stderr: stderr,
		lines:  make(chan []byte, 16),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		logger: logger,
	}
	go t.wait(pw)
	go t.readLoop()
	return t, nil
}

func (t *stdioTransport) wait(pw *io.PipeWriter) {
	t.waitErr = t.cmd.Wait()
	pw.Close()
	close(t.done)
	t.logger.Debug("mcp server process exited", "server", t.name, "err", t.waitErr)
}

func (t *stdioTransport) readLoop() {
	defer close(t.lines)
	br := bufio.NewReaderSize(t.stdout, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > maxLineBytes {
			t.logger.Warn("mcp message too large, dropped", "server", t.name, "bytes", len(line))
			line = nil
		}
		if len(bytes.TrimSpace(line)) > 0 {
			select {
			case t.lines <- line:
			case <-t.closed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *stdioTransport) write(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	data = append(data, '\n')
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrClosed, req.Method, err)
	}
	return nil
}

func (t *stdioTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.ID == nil {
		return nil, fmt.Errorf("round trip %s: request has no id", req.Method)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.Alive() {
		return nil, t.exitError()
	}
	if err := t.write(req); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			// The reply, if it ever comes, is discarded as stale by the next call.
			return nil, fmt.Errorf("%s: %w", req.Method, ctx.Err())
		case line, ok := <-t.lines:
			if !ok {
				return nil, t.exitError()
			}
			var resp Response
			if err := json.Unmarshal(line, &resp); err != nil {
				t.logger.Warn("mcp unparseable line skipped", "server", t.name, "err", err)
				continue
			}
			switch {
			case resp.IsNotification():
				t.logger.Debug("mcp notification", "server", t.name, "method", resp.Method)
			case resp.IsServerRequest():
				t.rejectServerRequest(&resp)
			case resp.Matches(*req.ID):
				return &resp, nil
			default:
				t.logger.Debug("mcp stale response skipped", "server", t.name, "id", string(resp.ID))
			}
		}
	}
}

// rejectServerRequest answers server-to-client requests, which this client
// does not implement.
func (t *stdioTransport) rejectServerRequest(resp *Response) {
	reply := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   *RPCError       `json:"error"`
	}{jsonrpcVersion, resp.ID, &RPCError{Code: codeMethodNotFound, Message: "method not supported by client: " + resp.Method}}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		t.logger.Debug("mcp reply to server request failed", "server", t.name, "err", err)
	}
}

func (t *stdioTransport) Notify(ctx context.Context, req *Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Alive() {
		return t.exitError()
	}
	return t.write(req)
}

func (t *stdioTransport) Alive() bool {
	select {
	case <-t.done:
		return false
	case <-t.closed:
		return false
	default:
		return true
	}
}

func (t *stdioTransport) exitError() error {
	// stdout reaches EOF just before the wait goroutine records the exit status.
	select {
	case <-t.done:
	case <-time.After(200 * time.Millisecond):
		return fmt.Errorf("%w: server %s", ErrClosed, t.name)
	}
	detail := "exited"
	if t.waitErr != nil {
		detail += ": " + t.waitErr.Error()
	}
	if tail := strings.TrimSpace(t.stderr.String()); tail != "" {
		detail += "; stderr: " + tail
	}
	return fmt.Errorf("%w: server %s %s", ErrClosed, t.name, detail)
}

// Close shuts stdin, gives the process a grace period to exit, then kills it.
// Safe to call on a process that has already exited.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.stdout.Close()
		t.stdin.Close()
		select {
		case <-t.done:
		case <-time.After(stdioCloseGrace):
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			<-t.done
		}
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
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
	return string(b.buf)
}
