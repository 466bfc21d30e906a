package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the protocol revision offered during initialize.
const ProtocolVersion = "2024-11-05"

const (
	jsonrpcVersion = "2.0"

	methodInitialize   = "initialize"
	methodInitialized  = "notifications/initialized"
	methodToolsList    = "tools/list"
	methodToolsCall    = "tools/call"
	methodResourceList = "resources/list"
	methodResourceRead = "resources/read"
	methodPromptsList  = "prompts/list"
	methodPromptsGet   = "prompts/get"

	codeMethodNotFound = -32601
)

var (
	// ErrNoServer is returned when no connected server advertises a tool,
	// resource or prompt.
	ErrNoServer = errors.New("no server provides")
	// ErrNotConnected is returned for operations on a server without a live connection.
	ErrNotConnected = errors.New("server not connected")
	// ErrServerExists is returned by AddServer for a duplicate name.
	ErrServerExists = errors.New("server already exists")
	// ErrUnknownServer is returned for names absent from the configuration.
	ErrUnknownServer = errors.New("unknown server")
	// ErrClosed is returned by a transport whose peer went away.
	ErrClosed = errors.New("transport closed")
)

// Request is an outgoing JSON-RPC 2.0 request. A nil ID makes it a notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an incoming JSON-RPC 2.0 message. Server-initiated messages
// carry Method; replies carry Result or Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsNotification reports a server-initiated message without an id.
func (r *Response) IsNotification() bool {
	return r.Method != "" && !r.hasID()
}

// IsServerRequest reports a server-initiated request expecting a reply.
func (r *Response) IsServerRequest() bool {
	return r.Method != "" && r.hasID()
}

func (r *Response) hasID() bool {
	return len(r.ID) > 0 && string(r.ID) != "null"
}

// Matches reports whether the response answers the request with id.
func (r *Response) Matches(id int64) bool {
	if r.Method != "" || !r.hasID() {
		return false
	}
	var n json.Number
	if err := json.Unmarshal(r.ID, &n); err != nil {
		// Some servers echo ids as strings.
		var s string
		if err := json.Unmarshal(r.ID, &s); err != nil {
			return false
		}
		n = json.Number(s)
	}
	got, err := n.Int64()
	return err == nil && got == id
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ServerInfo is what the server reported during initialize.
type ServerInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"-"`
}

// Tool is a remote tool advertised by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Server      string          `json:"-"`
}

// Resource is a readable item advertised by a server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Server      string `json:"-"`
}

// PromptArgument declares one argument of a prompt template.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a prompt template advertised by a server.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
	Server      string           `json:"-"`
}

// CallResult is the normalized outcome of tools/call.
type CallResult struct {
	Success bool
	Content string
	Error   string
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type cursorParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}
