package tool

import (
	"context"
	"strings"
	"testing"
)

func newTestShell(t *testing.T) *ShellTool {
	t.Helper()
	return NewShellTool(ShellConfig{Workspace: t.TempDir(), TimeoutSeconds: 5, MaxOutputBytes: 4096},
		DefaultSchemas()["execute_command"])
}

func TestShellTool_Echo_Success(t *testing.T) {
	res := newTestShell(t).Run(context.Background(), Args{"command": "echo hello"})
	if !res.Success || res.ExitCode != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Output, "hello") {
		t.Errorf("output should contain 'hello', got %q", res.Output)
	}
}

func TestShellTool_CombinesStderr(t *testing.T) {
	res := newTestShell(t).Run(context.Background(), Args{"command": "echo out; echo err 1>&2"})
	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Fatalf("expected combined output, got %q", res.Output)
	}
}

func TestShellTool_ExitNonZero(t *testing.T) {
	res := newTestShell(t).Run(context.Background(), Args{"command": "echo partial; exit 3"})
	if res.Success {
		t.Fatal("expected failure for exit 3")
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Output, "partial") {
		t.Errorf("output should be kept on failure, got %q", res.Output)
	}
}

func TestShellTool_LaunchFailure(t *testing.T) {
	res := newTestShell(t).Run(context.Background(), Args{"command": "echo hi", "cwd": "does/not/exist"})
	if res.Success || res.ExitCode != -1 {
		t.Fatalf("expected launch failure with exit -1, got %+v", res)
	}
	if res.Error == "" {
		t.Fatal("expected descriptive error")
	}
}

func TestShellTool_Timeout(t *testing.T) {
	res := newTestShell(t).Run(context.Background(), Args{"command": "sleep 5", "timeout": "1"})
	if res.Success || res.ExitCode != 124 {
		t.Fatalf("expected timeout exit 124, got %+v", res)
	}
}

func TestShellTool_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestShell(t).Run(ctx, Args{"command": "sleep 5"})
	if res.Success {
		t.Fatal("expected failure on cancelled context")
	}
}
