package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	sessionHeader   = "Mcp-Session-Id"
	maxHTTPBodySize = 16 << 20
)

// httpTransport posts JSON-RPC messages to a streamable HTTP endpoint.
// Replies may be plain JSON or a server-sent event stream.
type httpTransport struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger

	// mu serializes requests. Alive and Close never take it, so a slow
	// request cannot block liveness checks or shutdown.
	mu     sync.Mutex
	closed atomic.Bool
	// done is cancelled by Close and aborts the request in flight.
	done context.Context
	stop context.CancelFunc

	sessMu  sync.Mutex
	session string
}

func newHTTPTransport(name string, sc ServerConfig, logger *slog.Logger) (*httpTransport, error) {
	if sc.URL == "" {
		return nil, fmt.Errorf("server %s: http transport requires url", name)
	}
	done, stop := context.WithCancel(context.Background())
	return &httpTransport{
		name:    name,
		url:     sc.URL,
		headers: sc.Headers,
		client:  &http.Client{},
		logger:  logger,
		done:    done,
		stop:    stop,
	}, nil
}

func (t *httpTransport) sessionID() string {
	t.sessMu.Lock()
	defer t.sessMu.Unlock()
	return t.session
}

func (t *httpTransport) post(ctx context.Context, req *Request) (*http.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	if sid := t.sessionID(); sid != "" {
		httpReq.Header.Set(sessionHeader, sid)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrClosed, req.Method, t.url, err)
	}
	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.sessMu.Lock()
		t.session = sid
		t.sessMu.Unlock()
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: http %d: %s", req.Method, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (t *httpTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.ID == nil {
		return nil, fmt.Errorf("round trip %s: request has no id", req.Method)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return nil, fmt.Errorf("%w: server %s", ErrClosed, t.name)
	}
	ctx, cancel := t.bind(ctx)
	defer cancel()

	start := time.Now()
	resp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body := io.LimitReader(resp.Body, maxHTTPBodySize)

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var out *Response
	if mediaType == "text/event-stream" {
		out, err = t.readEventStream(body, *req.ID)
	} else {
		out, err = t.readJSON(body, *req.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Method, err)
	}
	t.logger.Debug("mcp http round trip", "server", t.name, "method", req.Method, "duration", time.Since(start))
	return out, nil
}

func (t *httpTransport) readJSON(r io.Reader, id int64) (*Response, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	data = bytes.TrimSpace(data)
	// Batched replies arrive as an array.
	if len(data) > 0 && data[0] == '[' {
		var batch []Response
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		for i := range batch {
			if batch[i].Matches(id) {
				return &batch[i], nil
			}
		}
		return nil, fmt.Errorf("no response with id %d", id)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if !resp.Matches(id) {
		return nil, fmt.Errorf("response id %s does not match request %d", string(resp.ID), id)
	}
	return &resp, nil
}

// readEventStream returns the first event whose data is the reply to id.
func (t *httpTransport) readEventStream(r io.Reader, id int64) (*Response, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var data strings.Builder
	flush := func() *Response {
		defer data.Reset()
		if data.Len() == 0 {
			return nil
		}
		var resp Response
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			t.logger.Debug("mcp sse event skipped", "server", t.name, "err", err)
			return nil
		}
		if resp.Matches(id) {
			return &resp
		}
		return nil
	}
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if resp := flush(); resp != nil {
				return resp, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if resp := flush(); resp != nil {
		return resp, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, fmt.Errorf("event stream ended without response %d", id)
}

func (t *httpTransport) Notify(ctx context.Context, req *Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return fmt.Errorf("%w: server %s", ErrClosed, t.name)
	}
	ctx, cancel := t.bind(ctx)
	defer cancel()
	resp, err := t.post(ctx, req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxHTTPBodySize))
	return resp.Body.Close()
}

// bind derives a context that is also cancelled when the transport closes.
func (t *httpTransport) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	unhook := context.AfterFunc(t.done, cancel)
	return ctx, func() {
		unhook()
		cancel()
	}
}

func (t *httpTransport) Alive() bool {
	return !t.closed.Load()
}

// Close aborts any request in flight and ends the session with a DELETE
// when one was established.
func (t *httpTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.stop()
	sid := t.sessionID()
	if sid == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set(sessionHeader, sid)
	if resp, err := t.client.Do(req); err == nil {
		resp.Body.Close()
	}
	return nil
}
