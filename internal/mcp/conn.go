package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
)

const (
	clientName    = "cmdloop"
	clientVersion = "0.1.0"
	maxListPages  = 100
)

// Conn is a live connection to one capability server. It owns the transport
// and the capability lists fetched at connect time.
type Conn struct {
	name      string
	transport Transport
	nextID    atomic.Int64
	logger    *slog.Logger

	mu        sync.RWMutex
	info      ServerInfo
	tools     []Tool
	resources []Resource
	prompts   []Prompt
}

// Dial opens the transport, performs the initialize handshake and caches the
// server's capability lists. On failure nothing is left running.
func Dial(ctx context.Context, name string, sc ServerConfig, logger *slog.Logger) (*Conn, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("server %s: %w", name, err)
	}
	sc = sc.Expanded()
	var (
		tr  Transport
		err error
	)
	switch sc.TransportKind() {
	case TransportHTTP:
		tr, err = newHTTPTransport(name, sc, logger)
	default:
		tr, err = startStdio(name, sc, logger)
	}
	if err != nil {
		return nil, err
	}

	c := NewConn(name, tr, logger)
	if err := c.Initialize(ctx); err != nil {
		tr.Close()
		return nil, fmt.Errorf("server %s: %w", name, err)
	}
	if err := c.Refresh(ctx); err != nil {
		tr.Close()
		return nil, fmt.Errorf("server %s: %w", name, err)
	}
	return c, nil
}

// NewConn wraps an open transport. Call Initialize before anything else.
func NewConn(name string, tr Transport, logger *slog.Logger) *Conn {
	return &Conn{name: name, transport: tr, logger: logger}
}

func (c *Conn) Name() string { return c.name }

// Connected reflects the live state of the underlying transport.
func (c *Conn) Connected() bool { return c.transport.Alive() }

func (c *Conn) Info() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Conn) Close() error { return c.transport.Close() }

// call sends one request and returns the raw result.
func (c *Conn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	resp, err := c.transport.RoundTrip(ctx, &Request{
		JSONRPC: jsonrpcVersion,
		ID:      &id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %w", method, resp.Error)
	}
	if len(resp.Result) == 0 || !gjson.ValidBytes(resp.Result) {
		return nil, fmt.Errorf("%s: response has no valid result", method)
	}
	return resp.Result, nil
}

// Initialize negotiates the protocol version and announces readiness.
func (c *Conn) Initialize(ctx context.Context) error {
	result, err := c.call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	parsed := gjson.ParseBytes(result)
	c.mu.Lock()
	c.info = ServerInfo{
		Name:            parsed.Get("serverInfo.name").String(),
		Version:         parsed.Get("serverInfo.version").String(),
		ProtocolVersion: parsed.Get("protocolVersion").String(),
	}
	c.mu.Unlock()

	if err := c.transport.Notify(ctx, &Request{JSONRPC: jsonrpcVersion, Method: methodInitialized}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	c.logger.Debug("mcp initialized", "server", c.name,
		"remote", c.info.Name, "protocol", c.info.ProtocolVersion)
	return nil
}

// listAll follows nextCursor pagination and decodes every item under key.
func listAll[T any](ctx context.Context, c *Conn, method, key string) ([]T, error) {
	var (
		items  []T
		cursor string
	)
	for page := 0; page < maxListPages; page++ {
		result, err := c.call(ctx, method, cursorParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		parsed := gjson.ParseBytes(result)
		for _, raw := range parsed.Get(key).Array() {
			var item T
			if err := json.Unmarshal([]byte(raw.Raw), &item); err != nil {
				c.logger.Warn("mcp list item skipped", "server", c.name, "method", method, "err", err)
				continue
			}
			items = append(items, item)
		}
		cursor = parsed.Get("nextCursor").String()
		if cursor == "" {
			return items, nil
		}
	}
	return items, fmt.Errorf("%s: pagination did not terminate", method)
}

// isMethodNotFound reports a server that lacks an optional capability.
func isMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == codeMethodNotFound
}

// Refresh re-fetches tools, resources and prompts. Resources and prompts are
// optional; a server that does not implement them advertises none.
func (c *Conn) Refresh(ctx context.Context) error {
	tools, err := listAll[Tool](ctx, c, methodToolsList, "tools")
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	resources, err := listAll[Resource](ctx, c, methodResourceList, "resources")
	if err != nil && !isMethodNotFound(err) {
		return fmt.Errorf("list resources: %w", err)
	}
	prompts, err := listAll[Prompt](ctx, c, methodPromptsList, "prompts")
	if err != nil && !isMethodNotFound(err) {
		return fmt.Errorf("list prompts: %w", err)
	}

	for i := range tools {
		tools[i].Server = c.name
	}
	for i := range resources {
		resources[i].Server = c.name
	}
	for i := range prompts {
		prompts[i].Server = c.name
	}

	c.mu.Lock()
	c.tools, c.resources, c.prompts = tools, resources, prompts
	c.mu.Unlock()
	return nil
}

func (c *Conn) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Tool(nil), c.tools...)
}

func (c *Conn) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Resource(nil), c.resources...)
}

func (c *Conn) Prompts() []Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Prompt(nil), c.prompts...)
}

// Tool looks up an advertised tool by name.
func (c *Conn) Tool(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func (c *Conn) hasResource(uri string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.resources {
		if r.URI == uri {
			return true
		}
	}
	return false
}

func (c *Conn) hasPrompt(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.prompts {
		if p.Name == name {
			return true
		}
	}
	return false
}

// CallTool invokes a remote tool. Transport and protocol failures are
// reported in the result rather than returned.
func (c *Conn) CallTool(ctx context.Context, name string, args map[string]any) CallResult {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.call(ctx, methodToolsCall, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return CallResult{Error: fmt.Sprintf("server %s: %v", c.name, err)}
	}
	parsed := gjson.ParseBytes(result)
	text := renderContent(parsed.Get("content"))
	if parsed.Get("isError").Bool() {
		if text == "" {
			text = "tool reported an error"
		}
		return CallResult{Content: text, Error: text}
	}
	return CallResult{Success: true, Content: text}
}

// ReadResource returns the text of every content item of uri.
func (c *Conn) ReadResource(ctx context.Context, uri string) (string, error) {
	result, err := c.call(ctx, methodResourceRead, readResourceParams{URI: uri})
	if err != nil {
		return "", fmt.Errorf("server %s: %w", c.name, err)
	}
	var parts []string
	for _, item := range gjson.GetBytes(result, "contents").Array() {
		switch {
		case item.Get("text").Exists():
			parts = append(parts, item.Get("text").String())
		case item.Get("blob").Exists():
			parts = append(parts, fmt.Sprintf("[binary %s, %d base64 bytes]",
				item.Get("mimeType").String(), len(item.Get("blob").String())))
		}
	}
	return strings.Join(parts, "\n"), nil
}

// GetPrompt renders a prompt template into role-prefixed text.
func (c *Conn) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	result, err := c.call(ctx, methodPromptsGet, getPromptParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("server %s: %w", c.name, err)
	}
	var b strings.Builder
	for _, msg := range gjson.GetBytes(result, "messages").Array() {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(msg.Get("role").String())
		b.WriteString(": ")
		b.WriteString(renderContent(msg.Get("content")))
	}
	return b.String(), nil
}

// renderContent flattens a content item or array of items into text.
func renderContent(content gjson.Result) string {
	items := []gjson.Result{content}
	if content.IsArray() {
		items = content.Array()
	}
	var parts []string
	for _, item := range items {
		switch item.Get("type").String() {
		case "text":
			parts = append(parts, item.Get("text").String())
		case "resource":
			if t := item.Get("resource.text"); t.Exists() {
				parts = append(parts, t.String())
			} else {
				parts = append(parts, "[resource "+item.Get("resource.uri").String()+"]")
			}
		case "image", "audio":
			parts = append(parts, fmt.Sprintf("[%s %s]", item.Get("type").String(), item.Get("mimeType").String()))
		case "":
			if item.Type == gjson.String {
				parts = append(parts, item.String())
			}
		default:
			parts = append(parts, item.Raw)
		}
	}
	return strings.Join(parts, "\n")
}
