// Package dispatch routes parsed invocations to local tools or to the
// capability servers, one at a time and in order.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cmdloop/internal/domain"
	"cmdloop/internal/mcp"
	"cmdloop/internal/metrics"
)

const (
	sourceLocal   = "local"
	sourceRemote  = "remote"
	sourceUnknown = "unknown"
)

// LocalExecutor runs tools from the local table.
type LocalExecutor interface {
	Has(name string) bool
	Execute(ctx context.Context, inv domain.ToolInvocation) domain.ToolResult
}

// RemoteCatalog resolves and calls tools advertised by capability servers.
type RemoteCatalog interface {
	FindTool(name string) (mcp.Tool, bool)
	CallTool(ctx context.Context, name string, args map[string]any) (mcp.CallResult, error)
}

// Confirmer approves remote calls before they are sent.
type Confirmer interface {
	Confirm(ctx context.Context, toolName, description string) error
}

// Dispatcher is the single entry point for executing invocations.
type Dispatcher struct {
	local   LocalExecutor
	remote  RemoteCatalog
	confirm Confirmer
	metrics *metrics.Collector
	logger  *slog.Logger
}

type Config struct {
	Local   LocalExecutor
	Remote  RemoteCatalog // optional
	Confirm Confirmer     // optional; remote calls skip confirmation when nil
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default
	}
	return &Dispatcher{
		local:   cfg.Local,
		remote:  cfg.Remote,
		confirm: cfg.Confirm,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Execute resolves inv by exact name against the local table, then the
// remote catalog. It never returns an error; every failure is a result.
func (d *Dispatcher) Execute(ctx context.Context, inv domain.ToolInvocation) domain.ToolResult {
	start := time.Now()
	source, res := d.route(ctx, inv)

	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	d.metrics.ToolCall(source, outcome).Inc()
	d.metrics.ToolLatency(source).ObserveSince(start)
	d.logger.Debug("dispatched",
		"tool", inv.Name,
		"source", source,
		"success", res.Success,
		"run_id", domain.RunID(ctx),
		"duration", time.Since(start),
	)
	return res
}

func (d *Dispatcher) route(ctx context.Context, inv domain.ToolInvocation) (string, domain.ToolResult) {
	if d.local != nil && d.local.Has(inv.Name) {
		return sourceLocal, d.local.Execute(ctx, inv)
	}
	if d.remote != nil {
		if t, ok := d.remote.FindTool(inv.Name); ok {
			return sourceRemote, d.callRemote(ctx, t, inv)
		}
	}
	d.logger.Warn("unknown tool requested", "tool", inv.Name)
	return sourceUnknown, domain.Failed("unknown tool: %s", inv.Name)
}

func (d *Dispatcher) callRemote(ctx context.Context, t mcp.Tool, inv domain.ToolInvocation) domain.ToolResult {
	args := CoerceArgs(t.InputSchema, inv.Parameters)
	if d.confirm != nil {
		if err := d.confirm.Confirm(ctx, inv.Name, describeRemote(t, inv)); err != nil {
			return domain.FailedWith(err)
		}
	}
	res, err := d.remote.CallTool(ctx, inv.Name, args)
	if err != nil {
		if errors.Is(err, mcp.ErrNoServer) {
			// The server went away between lookup and call.
			return domain.Failed("unknown tool: %s (%v)", inv.Name, err)
		}
		return domain.FailedWith(err)
	}
	if !res.Success {
		out := domain.Failed("%s", res.Error)
		if res.Content != res.Error {
			out.Output = res.Content
		}
		return out
	}
	return domain.ToolResult{Success: true, ExitCode: 0, Output: res.Content}
}

// ExecuteAll runs invocations sequentially and returns one result per
// invocation in input order. After cancellation the remaining invocations
// are reported as not run.
func (d *Dispatcher) ExecuteAll(ctx context.Context, invs []domain.ToolInvocation) []domain.ToolResult {
	results := make([]domain.ToolResult, len(invs))
	for i, inv := range invs {
		if err := ctx.Err(); err != nil {
			results[i] = domain.Failed("not executed: %v", err)
			continue
		}
		results[i] = d.Execute(ctx, inv)
	}
	return results
}
