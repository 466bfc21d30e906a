package tool

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"cmdloop/internal/domain"
)

// stubTool is a minimal tool for testing the registry and executor.
type stubTool struct {
	schema Schema
	result domain.ToolResult
	runs   int
	got    Args
}

func (s *stubTool) Schema() Schema            { return s.schema }
func (s *stubTool) Describe(args Args) string { return "stub " + s.schema.Name }
func (s *stubTool) Run(ctx context.Context, args Args) domain.ToolResult {
	s.runs++
	s.got = args
	return s.result
}

var _ Tool = (*stubTool)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStub(name string, params ...ParamSpec) *stubTool {
	return &stubTool{
		schema: Schema{Name: name, Class: ClassFile, Params: params},
		result: domain.Succeeded("ok"),
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(newStub("test_tool"))

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("expected to find registered tool")
	}
	if got.Schema().Name != "test_tool" {
		t.Fatalf("expected 'test_tool', got %q", got.Schema().Name)
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("expected nil for unknown tool")
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(newStub("beta"))
	reg.Register(newStub("alpha"))

	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	reg := NewRegistry(testLogger())
	first := newStub("dup")
	second := newStub("dup")
	reg.Register(first)
	reg.Register(second)
	if reg.Get("dup") != second {
		t.Fatal("expected the later registration to win")
	}
}

func TestRegistry_ParameterNamesDeduplicated(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(newStub("a", ParamSpec{Name: "file_path", Aliases: []string{"file_path", "path"}}))
	reg.Register(newStub("b", ParamSpec{Name: "path", Aliases: []string{"path", "dir"}}))

	got := reg.ParameterNames()
	want := []string{"file_path", "path", "dir"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRegisterBuiltins_AllDeclaredTools(t *testing.T) {
	reg := NewRegistry(testLogger())
	RegisterBuiltins(reg, BuiltinConfig{Workspace: t.TempDir()}, DefaultSchemas())
	for _, name := range []string{
		"execute_command", "read_file", "write_file", "edit_file",
		"list_directory", "find_files", "search_content",
	} {
		if reg.Get(name) == nil {
			t.Errorf("builtin %s not registered", name)
		}
	}
}
