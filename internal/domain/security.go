package domain

import "context"

// ConfirmFunc asks the user to approve a tool action described in plain text.
type ConfirmFunc func(ctx context.Context, toolName, description string) (bool, error)

// StatusFunc receives capability-server lifecycle updates.
type StatusFunc func(serverName, status string)

// AuditEntry is one recorded security or execution decision.
type AuditEntry struct {
	RunID    string
	Action   string // command_blocked | confirm_yes | confirm_no | tool_exec
	ToolName string
	Command  string
	Result   string // allowed | blocked | confirmed | denied | success | failure
	Details  string
}

// AuditLogger persists audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
