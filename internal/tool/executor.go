package tool

import (
	"context"
	"log/slog"
	"time"

	"cmdloop/internal/domain"
)

// Gate is the policy consulted before a tool runs.
type Gate interface {
	// CheckCommand rejects process commands outside the safety policy.
	CheckCommand(ctx context.Context, toolName, command string) error
	// Confirm asks the user; a nil error means approved.
	Confirm(ctx context.Context, toolName, description string) error
}

// Executor runs local tools behind the safety check and confirmation gate.
type Executor struct {
	registry *Registry
	gate     Gate
	audit    domain.AuditLogger
	logger   *slog.Logger
}

type ExecutorConfig struct {
	Registry *Registry
	Gate     Gate
	Audit    domain.AuditLogger // optional
	Logger   *slog.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		registry: cfg.Registry,
		gate:     cfg.Gate,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
	}
}

// Has reports whether a local tool with this exact name exists.
func (e *Executor) Has(name string) bool {
	return e.registry.Get(name) != nil
}

// Execute resolves parameters, applies the safety check then the confirmation
// gate, and runs the tool. It never panics on bad input and never returns an
// error; every failure is a ToolResult.
func (e *Executor) Execute(ctx context.Context, inv domain.ToolInvocation) domain.ToolResult {
	t := e.registry.Get(inv.Name)
	if t == nil {
		return domain.Failed("unknown tool: %s", inv.Name)
	}
	schema := t.Schema()

	args, err := Resolve(schema, inv.Parameters)
	if err != nil {
		e.logger.Warn("tool parameters missing", "tool", inv.Name, "err", err)
		return domain.FailedWith(err)
	}

	if schema.Class == ClassProcess && e.gate != nil {
		if err := e.gate.CheckCommand(ctx, inv.Name, args["command"]); err != nil {
			return domain.FailedWith(err)
		}
	}
	if schema.Confirm && e.gate != nil {
		if err := e.gate.Confirm(ctx, inv.Name, t.Describe(args)); err != nil {
			return domain.FailedWith(err)
		}
	}

	start := time.Now()
	res := t.Run(ctx, args)
	e.logger.Info("tool finished",
		"tool", inv.Name,
		"success", res.Success,
		"exit_code", res.ExitCode,
		"duration", time.Since(start),
	)
	e.record(ctx, inv.Name, t.Describe(args), res)
	return res
}

func (e *Executor) record(ctx context.Context, name, description string, res domain.ToolResult) {
	if e.audit == nil {
		return
	}
	outcome, details := "success", ""
	if !res.Success {
		outcome, details = "failure", res.Error
	}
	if err := e.audit.LogAudit(ctx, domain.AuditEntry{
		RunID:    domain.RunID(ctx),
		Action:   "tool_exec",
		ToolName: name,
		Command:  description,
		Result:   outcome,
		Details:  details,
	}); err != nil {
		e.logger.Warn("audit write failed", "tool", name, "err", err)
	}
}
