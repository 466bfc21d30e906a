package mcp

import "context"

// Transport moves JSON-RPC messages to one server. Implementations allow a
// single outstanding request; RoundTrip calls are serialized.
type Transport interface {
	// RoundTrip sends req and returns the response with the matching id.
	// Notifications and replies to earlier, abandoned requests are skipped.
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
	// Notify sends a notification; no reply is read.
	Notify(ctx context.Context, req *Request) error
	// Alive reports whether the peer is still reachable.
	Alive() bool
	Close() error
}
