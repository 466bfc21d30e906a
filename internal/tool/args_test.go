package tool

import (
	"errors"
	"strings"
	"testing"

	"cmdloop/internal/domain"
)

func params(pairs ...string) domain.Params {
	var b domain.ParamsBuilder
	for i := 0; i+1 < len(pairs); i += 2 {
		b.Set(pairs[i], pairs[i+1])
	}
	return b.Build()
}

func TestResolveAlias_FirstPopulatedWins(t *testing.T) {
	// Insertion order deliberately differs from alias priority.
	p := params("file", "d.txt", "path", "b.txt", "file_path", "")
	got, ok := ResolveAlias(p, "file_path", "path", "filename", "file")
	if !ok || got != "b.txt" {
		t.Fatalf("expected b.txt, got %q (ok=%v)", got, ok)
	}
}

func TestResolveAlias_Deterministic(t *testing.T) {
	p := params("filename", "c.txt", "file", "d.txt")
	for i := 0; i < 50; i++ {
		if got, _ := ResolveAlias(p, "file_path", "path", "filename", "file"); got != "c.txt" {
			t.Fatalf("iteration %d: got %q", i, got)
		}
	}
}

func TestResolveAlias_NonePresent(t *testing.T) {
	if _, ok := ResolveAlias(params("x", "1"), "a", "b"); ok {
		t.Fatal("expected no match")
	}
}

func TestResolve_MissingListsReceivedParams(t *testing.T) {
	schema := DefaultSchemas()["edit_file"]
	_, err := Resolve(schema, params("target", "a.go", "old_string", "x", "replacement_text", "y"))
	if err == nil {
		t.Fatal("expected missing parameter error")
	}
	var missing *MissingParamsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingParamsError, got %T", err)
	}
	msg := err.Error()
	for _, name := range []string{"target", "old_string", "replacement_text"} {
		if !strings.Contains(msg, name) {
			t.Errorf("error %q should mention received parameter %q", msg, name)
		}
	}
	if !strings.Contains(msg, "file_path") || !strings.Contains(msg, "new_string") {
		t.Errorf("error %q should name the missing fields", msg)
	}
}

func TestResolve_AllowEmptyAcceptsPresentEmptyValue(t *testing.T) {
	schema := DefaultSchemas()["edit_file"]
	args, err := Resolve(schema, params("path", "a.go", "old_str", "x", "new_string", ""))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if args["file_path"] != "a.go" || args["old_string"] != "x" || args["new_string"] != "" {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestResolve_EmptyRequiredValueIsMissing(t *testing.T) {
	schema := DefaultSchemas()["read_file"]
	_, err := Resolve(schema, params("path", ""))
	if err == nil {
		t.Fatal("expected error for empty required value")
	}
}

func TestParseSchemas_RejectsUnnamed(t *testing.T) {
	if _, err := ParseSchemas([]byte("tools:\n  - description: x\n")); err == nil {
		t.Fatal("expected error for unnamed tool")
	}
}

func TestLoadSchemas_OverlayFile(t *testing.T) {
	path := t.TempDir() + "/tools.yaml"
	doc := "tools:\n  - name: read_file\n    class: file\n    params:\n      - name: file_path\n        aliases: [target]\n        required: true\n"
	if err := writeFile(path, doc); err != nil {
		t.Fatal(err)
	}
	schemas, err := LoadSchemas(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := schemas["read_file"].Params[0].Names(); len(got) != 1 || got[0] != "target" {
		t.Fatalf("override not applied: %v", got)
	}
	if _, ok := schemas["write_file"]; !ok {
		t.Fatal("builtin schemas should remain")
	}
}
