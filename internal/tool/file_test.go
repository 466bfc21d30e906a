package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func fileCfg(dir string) FileConfig {
	return FileConfig{Workspace: dir, Sandbox: true}
}

func TestEditFile_ReplacesAllAndWritesBackup(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "main.go")
	if err := writeFile(target, "foo bar foo\nfoo\n"); err != nil {
		t.Fatal(err)
	}
	edit := NewEditFileTool(fileCfg(dir), DefaultSchemas()["edit_file"])
	res := edit.Run(context.Background(), Args{"file_path": "main.go", "old_string": "foo", "new_string": "baz"})
	if !res.Success {
		t.Fatalf("edit failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "3 occurrence") {
		t.Errorf("expected occurrence count in output, got %q", res.Output)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "baz bar baz\nbaz\n" {
		t.Fatalf("unexpected content %q", data)
	}
	backup, err := os.ReadFile(target + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != "foo bar foo\nfoo\n" {
		t.Fatalf("unexpected backup %q", backup)
	}
}

func TestEditFile_OldStringNotFound_NoChangeNoBackup(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	if err := writeFile(target, "hello world"); err != nil {
		t.Fatal(err)
	}
	edit := NewEditFileTool(fileCfg(dir), DefaultSchemas()["edit_file"])
	res := edit.Run(context.Background(), Args{"file_path": "notes.txt", "old_string": "absent", "new_string": "x"})
	if res.Success {
		t.Fatal("expected failure when old_string is absent")
	}
	if !strings.Contains(res.Error, "not found") {
		t.Errorf("unexpected error %q", res.Error)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "hello world" {
		t.Fatalf("content changed: %q", data)
	}
	if _, err := os.Stat(target + ".bak"); !os.IsNotExist(err) {
		t.Fatal("backup should not be written")
	}
}

func TestEditFile_MissingTarget(t *testing.T) {
	edit := NewEditFileTool(fileCfg(t.TempDir()), DefaultSchemas()["edit_file"])
	res := edit.Run(context.Background(), Args{"file_path": "nope.txt", "old_string": "a", "new_string": "b"})
	if res.Success || !strings.Contains(res.Error, "file not found") {
		t.Fatalf("expected file not found, got %+v", res)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()
	cfg := fileCfg(dir)
	write := NewWriteFileTool(cfg, DefaultSchemas()["write_file"])
	res := write.Run(context.Background(), Args{"file_path": "sub/a.txt", "content": "data"})
	if !res.Success {
		t.Fatalf("write: %s", res.Error)
	}
	read := NewReadFileTool(cfg, DefaultSchemas()["read_file"])
	res = read.Run(context.Background(), Args{"file_path": "sub/a.txt"})
	if !res.Success || res.Output != "data" {
		t.Fatalf("read: %+v", res)
	}
}

func TestReadFile_SandboxRejectsEscape(t *testing.T) {
	read := NewReadFileTool(fileCfg(t.TempDir()), DefaultSchemas()["read_file"])
	res := read.Run(context.Background(), Args{"file_path": "../../etc/passwd"})
	if res.Success || !strings.Contains(res.Error, "outside workspace") {
		t.Fatalf("expected sandbox rejection, got %+v", res)
	}
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	_ = writeFile(filepath.Join(dir, "a.txt"), "1")
	_ = os.Mkdir(filepath.Join(dir, "sub"), 0o755)
	list := NewListDirTool(fileCfg(dir), DefaultSchemas()["list_directory"])
	res := list.Run(context.Background(), Args{})
	if !res.Success {
		t.Fatalf("list: %s", res.Error)
	}
	if !strings.Contains(res.Output, "a.txt 1") || !strings.Contains(res.Output, "sub/") {
		t.Fatalf("unexpected listing %q", res.Output)
	}
}

func TestFindFilesAndSearchContent(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, "pkg"), 0o755)
	_ = os.MkdirAll(filepath.Join(dir, ".git"), 0o755)
	_ = writeFile(filepath.Join(dir, "pkg", "a.go"), "package pkg\nfunc Hello() {}\n")
	_ = writeFile(filepath.Join(dir, "b.txt"), "Hello there\n")
	_ = writeFile(filepath.Join(dir, ".git", "c.go"), "func Hello() {}\n")

	find := NewFindFilesTool(fileCfg(dir), DefaultSchemas()["find_files"])
	res := find.Run(context.Background(), Args{"pattern": "*.go"})
	if !res.Success || res.Output != filepath.Join("pkg", "a.go") {
		t.Fatalf("find: %+v", res)
	}

	search := NewSearchContentTool(fileCfg(dir), DefaultSchemas()["search_content"])
	res = search.Run(context.Background(), Args{"pattern": "Hello", "include": "*.go"})
	if !res.Success {
		t.Fatalf("search: %s", res.Error)
	}
	want := filepath.Join("pkg", "a.go") + ":2: func Hello() {}"
	if res.Output != want {
		t.Fatalf("got %q, want %q", res.Output, want)
	}

	res = search.Run(context.Background(), Args{"pattern": "("})
	if res.Success {
		t.Fatal("expected invalid regex failure")
	}
}

func TestWriteFile_BacksUpExistingContent(t *testing.T) {
	dir := t.TempDir()
	write := NewWriteFileTool(fileCfg(dir), DefaultSchemas()["write_file"])

	res := write.Run(context.Background(), Args{"file_path": "a.txt", "content": "first"})
	if !res.Success {
		t.Fatalf("write: %s", res.Error)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt.bak")); !os.IsNotExist(err) {
		t.Fatalf("new file should not get a backup, stat err=%v", err)
	}

	res = write.Run(context.Background(), Args{"file_path": "a.txt", "content": "second"})
	if !res.Success {
		t.Fatalf("overwrite: %s", res.Error)
	}
	if !strings.Contains(res.Output, "backup:") {
		t.Errorf("expected backup path in output, got %q", res.Output)
	}
	backup, err := os.ReadFile(filepath.Join(dir, "a.txt.bak"))
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != "first" {
		t.Fatalf("unexpected backup %q", backup)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
	if string(data) != "second" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestPreview_CutsOnRuneBoundary(t *testing.T) {
	got := preview("x" + strings.Repeat("é", 40))
	want := "x" + strings.Repeat("é", 29) + "..."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
