package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cmdloop/internal/agent"
	"cmdloop/internal/domain"
)

// lineReader owns stdin. Both the REPL and the confirmation prompt take
// lines from it, so an abandoned confirmation never swallows the next
// request.
type lineReader struct {
	lines chan string
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{lines: make(chan string)}
	go func() {
		defer close(lr.lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lr.lines <- scanner.Text()
		}
	}()
	return lr
}

// next blocks for a line. ok is false on EOF or when ctx is done.
func (lr *lineReader) next(ctx context.Context) (line string, ok bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok = <-lr.lines:
		return line, ok
	}
}

// confirmFunc asks on stderr and reads the answer from lr.
func (lr *lineReader) confirmFunc() domain.ConfirmFunc {
	return func(ctx context.Context, toolName, description string) (bool, error) {
		fmt.Fprintf(os.Stderr, "\n[confirm] %s\n  %s\nAllow? [y/N]: ", toolName, description)
		answer, ok := lr.next(ctx)
		if !ok {
			fmt.Fprintln(os.Stderr)
			if err := ctx.Err(); err != nil {
				return false, err
			}
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func printStatus(server, status string) {
	fmt.Fprintf(os.Stderr, "[mcp] %s: %s\n", server, status)
}

// consoleHooks prints narrative to stdout and a one-line summary per result
// to stderr.
func consoleHooks() agent.Hooks {
	return agent.Hooks{
		OnNarrative: func(_ int, text string) {
			fmt.Println(text)
		},
		OnResult: func(inv domain.ToolInvocation, res domain.ToolResult) {
			mark := "ok"
			if !res.Success {
				mark = "failed"
			}
			fmt.Fprintf(os.Stderr, "  > %s [%s, exit %d]", inv.Name, mark, res.ExitCode)
			if res.Error != "" {
				fmt.Fprintf(os.Stderr, ": %s", firstLine(res.Error))
			}
			fmt.Fprintln(os.Stderr)
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
