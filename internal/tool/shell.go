package tool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"cmdloop/internal/domain"
)

const (
	defaultShellTimeout   = 30
	defaultMaxOutputBytes = 65536
	exitLaunchFailure     = -1
	exitTimedOut          = 124
	shellWaitDelay        = 2 * time.Second
)

// ShellTool runs commands through sh -c.
type ShellTool struct {
	schema         Schema
	workspace      string
	sandbox        bool
	timeoutSeconds int
	maxOutputBytes int
}

type ShellConfig struct {
	Workspace      string
	Sandbox        bool
	TimeoutSeconds int
	MaxOutputBytes int
}

func NewShellTool(cfg ShellConfig, schema Schema) *ShellTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultShellTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &ShellTool{
		schema:         schema,
		workspace:      cfg.Workspace,
		sandbox:        cfg.Sandbox,
		timeoutSeconds: cfg.TimeoutSeconds,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

func (s *ShellTool) Schema() Schema { return s.schema }

func (s *ShellTool) Describe(args Args) string {
	if cwd := args["cwd"]; cwd != "" {
		return fmt.Sprintf("Run command in %s: %s", cwd, args["command"])
	}
	return "Run command: " + args["command"]
}

func (s *ShellTool) Run(ctx context.Context, args Args) domain.ToolResult {
	command := strings.TrimSpace(args["command"])

	dir := s.workspace
	if cwd := args["cwd"]; cwd != "" {
		resolved, err := resolvePath(s.workspace, cwd, s.sandbox)
		if err != nil {
			return domain.ToolResult{ExitCode: exitLaunchFailure, Error: err.Error()}
		}
		dir = resolved
	}

	timeout := time.Duration(s.timeoutSeconds) * time.Second
	if raw := args["timeout"]; raw != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = shellWaitDelay

	output, err := cmd.CombinedOutput()
	text := truncate(string(output), s.maxOutputBytes)
	if err == nil {
		return domain.ToolResult{Success: true, ExitCode: 0, Output: text}
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return domain.ToolResult{ExitCode: exitTimedOut, Output: text,
			Error: fmt.Sprintf("command timed out after %s", timeout)}
	case ctx.Err() != nil:
		return domain.ToolResult{ExitCode: exitLaunchFailure, Output: text,
			Error: fmt.Sprintf("command cancelled: %v", ctx.Err())}
	case errors.As(err, &exitErr):
		return domain.ToolResult{ExitCode: exitErr.ExitCode(), Output: text,
			Error: fmt.Sprintf("command exited with status %d", exitErr.ExitCode())}
	default:
		return domain.ToolResult{ExitCode: exitLaunchFailure, Output: text,
			Error: fmt.Sprintf("failed to start command: %v", err)}
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	if head, cut := domain.Clip(s, max); cut {
		return head + "\n... (output truncated)"
	}
	return s
}
