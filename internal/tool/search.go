package tool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"cmdloop/internal/domain"
)

const (
	maxSearchResults = 200
	maxLineLength    = 240
)

var skipDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true}

var errStopWalk = errors.New("stop walk")

// walkFiles visits regular files under root, skipping well-known bulky
// directories. It stops early when ctx is cancelled or fn returns false.
func walkFiles(ctx context.Context, root string, fn func(path string, d fs.DirEntry) bool) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !fn(path, d) {
			return errStopWalk
		}
		return nil
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

// --- FindFilesTool ---

type FindFilesTool struct {
	schema Schema
	cfg    FileConfig
}

func NewFindFilesTool(cfg FileConfig, schema Schema) *FindFilesTool {
	return &FindFilesTool{schema: schema, cfg: cfg}
}

func (t *FindFilesTool) Schema() Schema { return t.schema }
func (t *FindFilesTool) Describe(args Args) string {
	return fmt.Sprintf("Find %s under %s", args["pattern"], dirOrDefault(args["path"]))
}

func (t *FindFilesTool) Run(ctx context.Context, args Args) domain.ToolResult {
	pattern := args["pattern"]
	if _, err := filepath.Match(pattern, ""); err != nil {
		return domain.Failed("invalid glob %q: %v", pattern, err)
	}
	root, err := t.cfg.resolve(dirOrDefault(args["path"]))
	if err != nil {
		return domain.FailedWith(err)
	}

	var matches []string
	truncated := false
	err = walkFiles(ctx, root, func(path string, d fs.DirEntry) bool {
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			if len(matches) == maxSearchResults {
				truncated = true
				return false
			}
			matches = append(matches, relTo(root, path))
		}
		return true
	})
	if err != nil {
		return domain.Failed("find files: %v", err)
	}
	if len(matches) == 0 {
		return domain.Succeeded(fmt.Sprintf("No files matching %s", pattern))
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (limited to %d results)", maxSearchResults)
	}
	return domain.Succeeded(out)
}

// --- SearchContentTool ---

type SearchContentTool struct {
	schema Schema
	cfg    FileConfig
}

func NewSearchContentTool(cfg FileConfig, schema Schema) *SearchContentTool {
	return &SearchContentTool{schema: schema, cfg: cfg}
}

func (t *SearchContentTool) Schema() Schema { return t.schema }
func (t *SearchContentTool) Describe(args Args) string {
	return fmt.Sprintf("Search for /%s/ under %s", args["pattern"], dirOrDefault(args["path"]))
}

func (t *SearchContentTool) Run(ctx context.Context, args Args) domain.ToolResult {
	re, err := regexp.Compile(args["pattern"])
	if err != nil {
		return domain.Failed("invalid pattern: %v", err)
	}
	include := args["include"]
	root, err := t.cfg.resolve(dirOrDefault(args["path"]))
	if err != nil {
		return domain.FailedWith(err)
	}

	var hits []string
	truncated := false
	err = walkFiles(ctx, root, func(path string, d fs.DirEntry) bool {
		if include != "" {
			if ok, _ := filepath.Match(include, d.Name()); !ok {
				return true
			}
		}
		more, err := grepFile(path, relTo(root, path), re, &hits)
		if err != nil {
			return true
		}
		if !more {
			truncated = true
			return false
		}
		return true
	})
	if err != nil {
		return domain.Failed("search: %v", err)
	}
	if len(hits) == 0 {
		return domain.Succeeded("No matches")
	}
	out := strings.Join(hits, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (limited to %d matches)", maxSearchResults)
	}
	return domain.Succeeded(out)
}

// grepFile appends "rel:line: text" hits and reports false once the result
// limit is reached.
func grepFile(path, rel string, re *regexp.Regexp, hits *[]string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return true, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(*hits) == maxSearchResults {
			return false, nil
		}
		if len(text) > maxLineLength {
			text = text[:maxLineLength] + "..."
		}
		*hits = append(*hits, fmt.Sprintf("%s:%d: %s", rel, line, strings.TrimSpace(text)))
	}
	return true, scanner.Err()
}
