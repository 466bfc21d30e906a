package security

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"cmdloop/internal/config"
	"cmdloop/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memAudit records audit entries in memory.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

func defaultTestCfg() config.SecurityConfig {
	return config.SecurityConfig{
		SafeMode:              true,
		AllowList:             []string{"ls", "cat", "echo", "git status"},
		MatchPolicy:           "substring",
		ConfirmTimeoutSeconds: 10,
		AuditLog:              true,
	}
}

func mustEngine(t *testing.T, cfg config.SecurityConfig, confirmFn domain.ConfirmFunc) (*Engine, *memAudit) {
	t.Helper()
	audit := &memAudit{}
	e, err := NewEngine(cfg, confirmFn, audit, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, audit
}

func answer(ok bool) domain.ConfirmFunc {
	return func(ctx context.Context, toolName, description string) (bool, error) {
		return ok, nil
	}
}

// --- CheckCommand ---

func TestCheckCommand_AllowListAllows(t *testing.T) {
	e, _ := mustEngine(t, defaultTestCfg(), nil)
	if err := e.CheckCommand(context.Background(), "execute_command", "ls -la"); err != nil {
		t.Fatalf("expected ls to pass: %v", err)
	}
}

func TestCheckCommand_BlocksUnlisted(t *testing.T) {
	e, audit := mustEngine(t, defaultTestCfg(), nil)
	err := e.CheckCommand(context.Background(), "execute_command", "rm -rf /")
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
	if !strings.Contains(err.Error(), "not allowed") || !strings.Contains(err.Error(), `"rm"`) {
		t.Fatalf("unexpected message: %v", err)
	}
	if got := audit.actions(); len(got) != 1 || got[0] != "command_blocked" {
		t.Fatalf("expected one command_blocked entry, got %v", got)
	}
}

func TestCheckCommand_SafeModeOffBypasses(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.SafeMode = false
	e, audit := mustEngine(t, cfg, nil)
	if err := e.CheckCommand(context.Background(), "execute_command", "rm -rf /tmp/x"); err != nil {
		t.Fatalf("safe mode off should bypass: %v", err)
	}
	if len(audit.actions()) != 0 {
		t.Fatal("bypass should not audit")
	}
}

func TestCheckCommand_EmptyCommandBlocked(t *testing.T) {
	e, _ := mustEngine(t, defaultTestCfg(), nil)
	if err := e.CheckCommand(context.Background(), "execute_command", "   "); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected empty command to be blocked, got %v", err)
	}
}

// The substring policy admits any command that mentions an allowed entry.
func TestCheckCommand_SubstringPolicyIsLoose(t *testing.T) {
	e, _ := mustEngine(t, defaultTestCfg(), nil)
	if err := e.CheckCommand(context.Background(), "execute_command", "false; rm -rf x # ls"); err != nil {
		t.Fatalf("substring policy should admit this command: %v", err)
	}
}

func TestCheckCommand_LeadingTokenPolicy(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.MatchPolicy = "leading-token"
	e, _ := mustEngine(t, cfg, nil)
	ctx := context.Background()

	if err := e.CheckCommand(ctx, "execute_command", "  ls -la /tmp"); err != nil {
		t.Fatalf("ls should pass: %v", err)
	}
	if err := e.CheckCommand(ctx, "execute_command", "false; rm -rf x # ls"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected leading-token policy to block, got %v", err)
	}
	if err := e.CheckCommand(ctx, "execute_command", "lsof -i"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("lsof is not ls, got %v", err)
	}
}

func TestNewEngine_UnknownPolicy(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.MatchPolicy = "glob"
	if _, err := NewEngine(cfg, nil, nil, testLogger()); err == nil {
		t.Fatal("expected error for unknown match policy")
	}
}

// --- Confirm ---

func TestConfirm_UserAccepts(t *testing.T) {
	e, audit := mustEngine(t, defaultTestCfg(), answer(true))
	if err := e.Confirm(context.Background(), "write_file", "Write 3 bytes to a.txt"); err != nil {
		t.Fatalf("expected confirmation: %v", err)
	}
	if got := audit.actions(); len(got) != 1 || got[0] != "confirm_yes" {
		t.Fatalf("expected confirm_yes, got %v", got)
	}
}

func TestConfirm_UserRejects(t *testing.T) {
	e, audit := mustEngine(t, defaultTestCfg(), answer(false))
	err := e.Confirm(context.Background(), "write_file", "Write 3 bytes to a.txt")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if got := audit.actions(); len(got) != 1 || got[0] != "confirm_no" {
		t.Fatalf("expected confirm_no, got %v", got)
	}
}

func TestConfirm_PassesNameAndDescription(t *testing.T) {
	var gotTool, gotDesc string
	fn := func(ctx context.Context, toolName, description string) (bool, error) {
		gotTool, gotDesc = toolName, description
		return true, nil
	}
	e, _ := mustEngine(t, defaultTestCfg(), fn)
	if err := e.Confirm(context.Background(), "edit_file", "Edit main.go"); err != nil {
		t.Fatal(err)
	}
	if gotTool != "edit_file" || gotDesc != "Edit main.go" {
		t.Fatalf("callback got (%q, %q)", gotTool, gotDesc)
	}
}

func TestConfirm_AutoApproveSkipsCallback(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.AutoApprove = true
	called := false
	fn := func(ctx context.Context, toolName, description string) (bool, error) {
		called = true
		return false, nil
	}
	e, _ := mustEngine(t, cfg, fn)
	if err := e.Confirm(context.Background(), "write_file", "x"); err != nil {
		t.Fatalf("auto-approve should confirm: %v", err)
	}
	if called {
		t.Fatal("callback must not run under auto-approve")
	}
}

func TestConfirm_NoHandlerDenies(t *testing.T) {
	e, _ := mustEngine(t, defaultTestCfg(), nil)
	if err := e.Confirm(context.Background(), "write_file", "x"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected without handler, got %v", err)
	}
}

func TestConfirm_CallbackError(t *testing.T) {
	fn := func(ctx context.Context, toolName, description string) (bool, error) {
		return false, errors.New("tty closed")
	}
	e, _ := mustEngine(t, defaultTestCfg(), fn)
	err := e.Confirm(context.Background(), "write_file", "x")
	if err == nil || !strings.Contains(err.Error(), "tty closed") {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestConfirm_Timeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	e, _ := mustEngine(t, defaultTestCfg(), func(ctx context.Context, toolName, description string) (bool, error) {
		<-block
		return true, nil
	})
	p := e.Policy()
	p.ConfirmTimeout = 50 * time.Millisecond
	e.Update(p)

	start := time.Now()
	err := e.Confirm(context.Background(), "write_file", "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("confirm did not honor timeout")
	}
}

func TestConfirm_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	e, _ := mustEngine(t, defaultTestCfg(), func(ctx context.Context, toolName, description string) (bool, error) {
		<-block
		return true, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Confirm(ctx, "write_file", "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// --- Update ---

func TestUpdate_ReplacesPolicy(t *testing.T) {
	e, _ := mustEngine(t, defaultTestCfg(), nil)
	ctx := context.Background()
	if err := e.CheckCommand(ctx, "execute_command", "make build"); err == nil {
		t.Fatal("make should be blocked initially")
	}

	p := e.Policy()
	p.AllowList = append(p.AllowList, "make")
	e.Update(p)

	if err := e.CheckCommand(ctx, "execute_command", "make build"); err != nil {
		t.Fatalf("make should pass after update: %v", err)
	}
}

func TestAuditDisabled(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.AuditLog = false
	e, audit := mustEngine(t, cfg, answer(true))
	_ = e.CheckCommand(context.Background(), "execute_command", "rm x")
	_ = e.Confirm(context.Background(), "write_file", "x")
	if len(audit.actions()) != 0 {
		t.Fatalf("audit disabled but got %v", audit.actions())
	}
}

func TestAuditCarriesRunID(t *testing.T) {
	e, audit := mustEngine(t, defaultTestCfg(), nil)
	ctx := domain.WithRunID(context.Background(), "run-1")
	_ = e.CheckCommand(ctx, "execute_command", "rm x")
	if len(audit.entries) != 1 || audit.entries[0].RunID != "run-1" {
		t.Fatalf("expected run id on audit entry, got %+v", audit.entries)
	}
}
