package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cmdloop/internal/domain"
)

const defaultBackupSuffix = ".bak"

// resolvePath resolves path against the workspace. With sandbox set, paths
// escaping the workspace are rejected.
func resolvePath(workspace, path string, sandbox bool) (string, error) {
	path = strings.TrimSpace(path)
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if sandbox && workspace != "" {
		wsAbs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		if !strings.HasPrefix(resolved, wsAbs+string(filepath.Separator)) && resolved != wsAbs {
			return "", fmt.Errorf("path %q is outside workspace %q", resolved, wsAbs)
		}
	}
	return resolved, nil
}

// FileConfig is shared by the file and search tools.
type FileConfig struct {
	Workspace      string
	Sandbox        bool
	BackupSuffix   string
	MaxOutputBytes int
}

func (c FileConfig) resolve(path string) (string, error) {
	return resolvePath(c.Workspace, path, c.Sandbox)
}

// --- ReadFileTool ---

type ReadFileTool struct {
	schema Schema
	cfg    FileConfig
}

func NewReadFileTool(cfg FileConfig, schema Schema) *ReadFileTool {
	return &ReadFileTool{schema: schema, cfg: cfg}
}

func (t *ReadFileTool) Schema() Schema            { return t.schema }
func (t *ReadFileTool) Describe(args Args) string { return "Read " + args["file_path"] }

func (t *ReadFileTool) Run(ctx context.Context, args Args) domain.ToolResult {
	resolved, err := t.cfg.resolve(args["file_path"])
	if err != nil {
		return domain.FailedWith(err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return domain.Failed("read file: %v", err)
	}
	return domain.Succeeded(truncate(string(data), t.cfg.MaxOutputBytes))
}

// --- WriteFileTool ---

// WriteFileTool replaces a file's content. An existing file is copied aside
// first.
type WriteFileTool struct {
	schema Schema
	cfg    FileConfig
}

func NewWriteFileTool(cfg FileConfig, schema Schema) *WriteFileTool {
	if cfg.BackupSuffix == "" {
		cfg.BackupSuffix = defaultBackupSuffix
	}
	return &WriteFileTool{schema: schema, cfg: cfg}
}

func (t *WriteFileTool) Schema() Schema { return t.schema }
func (t *WriteFileTool) Describe(args Args) string {
	return fmt.Sprintf("Write %d bytes to %s", len(args["content"]), args["file_path"])
}

func (t *WriteFileTool) Run(ctx context.Context, args Args) domain.ToolResult {
	resolved, err := t.cfg.resolve(args["file_path"])
	if err != nil {
		return domain.FailedWith(err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return domain.Failed("create directory: %v", err)
	}
	backup, err := t.backup(resolved)
	if err != nil {
		return domain.Failed("write backup: %v", err)
	}
	content := args["content"]
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return domain.Failed("write file: %v", err)
	}
	if backup != "" {
		return domain.Succeeded(fmt.Sprintf("Wrote %d bytes to %s (backup: %s)", len(content), resolved, backup))
	}
	return domain.Succeeded(fmt.Sprintf("Wrote %d bytes to %s", len(content), resolved))
}

// backup copies an existing regular file aside and returns the copy's path,
// or "" when there was nothing to keep.
func (t *WriteFileTool) backup(path string) (string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	dst := path + t.cfg.BackupSuffix
	return dst, os.WriteFile(dst, data, info.Mode().Perm())
}

// --- EditFileTool ---

// EditFileTool replaces every occurrence of old_string, keeping a backup of
// the previous content next to the file.
type EditFileTool struct {
	schema Schema
	cfg    FileConfig
}

func NewEditFileTool(cfg FileConfig, schema Schema) *EditFileTool {
	if cfg.BackupSuffix == "" {
		cfg.BackupSuffix = defaultBackupSuffix
	}
	return &EditFileTool{schema: schema, cfg: cfg}
}

func (t *EditFileTool) Schema() Schema { return t.schema }
func (t *EditFileTool) Describe(args Args) string {
	return fmt.Sprintf("Edit %s: replace %q with %q",
		args["file_path"], preview(args["old_string"]), preview(args["new_string"]))
}

func (t *EditFileTool) Run(ctx context.Context, args Args) domain.ToolResult {
	resolved, err := t.cfg.resolve(args["file_path"])
	if err != nil {
		return domain.FailedWith(err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Failed("file not found: %s", resolved)
		}
		return domain.Failed("stat file: %v", err)
	}
	if info.IsDir() {
		return domain.Failed("%s is a directory", resolved)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return domain.Failed("read file: %v", err)
	}

	original := string(data)
	oldText, newText := args["old_string"], args["new_string"]
	count := strings.Count(original, oldText)
	if count == 0 {
		return domain.Failed("old_string not found in %s", resolved)
	}

	backup := resolved + t.cfg.BackupSuffix
	if err := os.WriteFile(backup, data, info.Mode().Perm()); err != nil {
		return domain.Failed("write backup: %v", err)
	}
	updated := strings.ReplaceAll(original, oldText, newText)
	if err := os.WriteFile(resolved, []byte(updated), info.Mode().Perm()); err != nil {
		return domain.Failed("write file: %v", err)
	}
	return domain.Succeeded(fmt.Sprintf("Replaced %d occurrence(s) in %s (backup: %s)", count, resolved, backup))
}

func preview(s string) string {
	const max = 60
	s = strings.ReplaceAll(s, "\n", `\n`)
	if head, cut := domain.Clip(s, max); cut {
		return head + "..."
	}
	return s
}

// --- ListDirTool ---

type ListDirTool struct {
	schema Schema
	cfg    FileConfig
}

func NewListDirTool(cfg FileConfig, schema Schema) *ListDirTool {
	return &ListDirTool{schema: schema, cfg: cfg}
}

func (t *ListDirTool) Schema() Schema { return t.schema }
func (t *ListDirTool) Describe(args Args) string {
	return "List " + dirOrDefault(args["path"])
}

func (t *ListDirTool) Run(ctx context.Context, args Args) domain.ToolResult {
	resolved, err := t.cfg.resolve(dirOrDefault(args["path"]))
	if err != nil {
		return domain.FailedWith(err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return domain.Failed("list dir: %v", err)
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			lines = append(lines, e.Name()+"/")
			continue
		}
		size := ""
		if info, err := e.Info(); err == nil {
			size = fmt.Sprintf(" %d", info.Size())
		}
		lines = append(lines, e.Name()+size)
	}
	return domain.Succeeded(strings.Join(lines, "\n"))
}

func dirOrDefault(path string) string {
	if strings.TrimSpace(path) == "" {
		return "."
	}
	return path
}
