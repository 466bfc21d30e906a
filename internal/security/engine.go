package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cmdloop/internal/config"
	"cmdloop/internal/domain"
)

var (
	// ErrNotAllowed marks a command rejected by the safe-mode allow-list.
	ErrNotAllowed = errors.New("command not allowed")
	// ErrRejected marks an action the user declined.
	ErrRejected = errors.New("action rejected by user")
)

// MatchPolicy selects how allow-list entries are compared to a command.
type MatchPolicy string

const (
	// MatchSubstring allows a command containing any entry anywhere in its
	// text. This is the historical behavior and is deliberately loose: an
	// entry "ls" also admits "false; rm -rf x # ls".
	MatchSubstring MatchPolicy = "substring"
	// MatchLeadingToken allows a command whose first word equals an entry.
	MatchLeadingToken MatchPolicy = "leading-token"
)

const defaultConfirmTimeout = 60 * time.Second

// Policy is the mutable part of the engine. It is replaced as a whole through
// Engine.Update and read as a snapshot per check.
type Policy struct {
	SafeMode       bool
	AllowList      []string
	Match          MatchPolicy
	AutoApprove    bool
	ConfirmTimeout time.Duration
}

// Allows reports whether command passes the allow-list under p.Match.
func (p Policy) Allows(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	lead := LeadingToken(command)
	for _, allowed := range p.AllowList {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		switch p.Match {
		case MatchLeadingToken:
			if lead == allowed {
				return true
			}
		default:
			if strings.Contains(command, allowed) {
				return true
			}
		}
	}
	return false
}

// LeadingToken returns the first whitespace-separated word of command.
func LeadingToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Engine gates tool execution: the allow-list check for process tools and the
// interactive confirmation for side-effecting tools.
type Engine struct {
	mu        sync.RWMutex
	policy    Policy
	auditOn   bool
	confirmFn domain.ConfirmFunc
	audit     domain.AuditLogger
	logger    *slog.Logger
}

func NewEngine(cfg config.SecurityConfig, confirmFn domain.ConfirmFunc, audit domain.AuditLogger, logger *slog.Logger) (*Engine, error) {
	policy, err := PolicyFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		policy:    policy,
		auditOn:   cfg.AuditLog,
		confirmFn: confirmFn,
		audit:     audit,
		logger:    logger,
	}, nil
}

// PolicyFromConfig validates and converts the security config section.
func PolicyFromConfig(cfg config.SecurityConfig) (Policy, error) {
	match := MatchPolicy(cfg.MatchPolicy)
	switch match {
	case "":
		match = MatchSubstring
	case MatchSubstring, MatchLeadingToken:
	default:
		return Policy{}, fmt.Errorf("unknown match policy %q", cfg.MatchPolicy)
	}
	timeout := time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	return Policy{
		SafeMode:       cfg.SafeMode,
		AllowList:      append([]string(nil), cfg.AllowList...),
		Match:          match,
		AutoApprove:    cfg.AutoApprove,
		ConfirmTimeout: timeout,
	}, nil
}

// Policy returns the current policy snapshot.
func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Update replaces the policy. Checks already in progress keep the snapshot
// they started with.
func (e *Engine) Update(p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p.AllowList = append([]string(nil), p.AllowList...)
	if p.Match == "" {
		p.Match = MatchSubstring
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = defaultConfirmTimeout
	}
	e.policy = p
}

// CheckCommand applies the safe-mode allow-list. With safe mode off every
// command passes.
func (e *Engine) CheckCommand(ctx context.Context, toolName, command string) error {
	p := e.Policy()
	if !p.SafeMode {
		return nil
	}
	cmd := strings.TrimSpace(command)
	if p.Allows(cmd) {
		e.logAction(ctx, "tool_exec", toolName, cmd, "allowed", "allow-list match ("+string(p.Match)+")")
		return nil
	}
	e.logger.Warn("command BLOCKED by allow-list",
		"tool", toolName,
		"command", cmd,
		"policy", p.Match,
	)
	e.logAction(ctx, "command_blocked", toolName, cmd, "blocked", "not in allow-list")
	return fmt.Errorf("%w: %q is not in the safe-mode allow-list", ErrNotAllowed, LeadingToken(cmd))
}

type confirmReply struct {
	ok  bool
	err error
}

// Confirm asks the user through the confirmation callback, bounded by the
// policy's confirm timeout and ctx. Auto-approve skips the question.
func (e *Engine) Confirm(ctx context.Context, toolName, description string) error {
	p := e.Policy()
	if p.AutoApprove {
		e.logAction(ctx, "confirm_yes", toolName, description, "confirmed", "auto-approve")
		return nil
	}
	if e.confirmFn == nil {
		e.logAction(ctx, "confirm_no", toolName, description, "denied", "no confirmation handler")
		return fmt.Errorf("%w: no confirmation handler for %s", ErrRejected, toolName)
	}

	askCtx, cancel := context.WithTimeout(ctx, p.ConfirmTimeout)
	defer cancel()

	reply := make(chan confirmReply, 1)
	go func() {
		ok, err := e.confirmFn(askCtx, toolName, description)
		reply <- confirmReply{ok: ok, err: err}
	}()

	select {
	case r := <-reply:
		if r.err != nil {
			e.logAction(ctx, "confirm_no", toolName, description, "denied", "confirmation error: "+r.err.Error())
			return fmt.Errorf("confirmation failed: %w", r.err)
		}
		if !r.ok {
			e.logAction(ctx, "confirm_no", toolName, description, "denied", "user denied")
			return fmt.Errorf("%w: %s", ErrRejected, description)
		}
		e.logAction(ctx, "confirm_yes", toolName, description, "confirmed", "user confirmed")
		return nil
	case <-askCtx.Done():
		e.logAction(ctx, "confirm_no", toolName, description, "denied", "confirmation timed out or cancelled")
		return fmt.Errorf("confirmation for %s not answered: %w", toolName, askCtx.Err())
	}
}

func (e *Engine) logAction(ctx context.Context, action, toolName, command, result, details string) {
	if !e.auditOn || e.audit == nil {
		return
	}
	err := e.audit.LogAudit(ctx, domain.AuditEntry{
		RunID:    domain.RunID(ctx),
		Action:   action,
		ToolName: toolName,
		Command:  command,
		Result:   result,
		Details:  details,
	})
	if err != nil {
		e.logger.Warn("audit write failed", "tool", toolName, "err", err)
	}
}
