package agent

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"cmdloop/internal/domain"
	"cmdloop/internal/invoke"
	"cmdloop/internal/mcp"
	"cmdloop/internal/tool"
)

// ToolInfo describes one callable tool for the system prompt.
type ToolInfo struct {
	Name        string
	Description string
	Server      string // empty for local tools
	Params      []ParamInfo
}

type ParamInfo struct {
	Name        string
	Required    bool
	Description string
}

// LocalTools converts declared local schemas.
func LocalTools(schemas []tool.Schema) []ToolInfo {
	out := make([]ToolInfo, 0, len(schemas))
	for _, s := range schemas {
		info := ToolInfo{Name: s.Name, Description: s.Description}
		for _, p := range s.Params {
			info.Params = append(info.Params, ParamInfo{Name: p.Names()[0], Required: p.Required, Description: p.Description})
		}
		out = append(out, info)
	}
	return out
}

// RemoteTools converts tools advertised by capability servers, reading
// parameters from each inputSchema.
func RemoteTools(tools []mcp.Tool) []ToolInfo {
	out := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		info := ToolInfo{Name: t.Name, Description: t.Description, Server: t.Server}
		if len(t.InputSchema) > 0 {
			schema := gjson.ParseBytes(t.InputSchema)
			required := make(map[string]bool)
			for _, r := range schema.Get("required").Array() {
				required[r.String()] = true
			}
			schema.Get("properties").ForEach(func(key, value gjson.Result) bool {
				info.Params = append(info.Params, ParamInfo{
					Name:        key.String(),
					Required:    required[key.String()],
					Description: value.Get("description").String(),
				})
				return true
			})
		}
		out = append(out, info)
	}
	return out
}

// PromptBuilder renders the system prompt for a run.
type PromptBuilder struct {
	workspace         string
	systemPromptExtra string
	now               func() time.Time
}

// PromptConfig holds configuration for the prompt builder.
type PromptConfig struct {
	Workspace         string
	SystemPromptExtra string
}

func NewPromptBuilder(cfg PromptConfig) *PromptBuilder {
	return &PromptBuilder{
		workspace:         cfg.Workspace,
		systemPromptExtra: cfg.SystemPromptExtra,
		now:               time.Now,
	}
}

// BuildSystemPrompt lists the tools and explains the invocation grammar.
func (p *PromptBuilder) BuildSystemPrompt(tools []ToolInfo) string {
	workspacePath, err := filepath.Abs(p.workspace)
	if err != nil {
		workspacePath = p.workspace
	}

	var b strings.Builder
	fmt.Fprintf(&b, `# cmdloop

You are a command-line assistant that completes tasks by calling tools.

## Current Time
%s

## Runtime
%s %s, shell commands run with sh -c

## Workspace
%s
Relative paths are resolved against the workspace.
`, p.now().Format("2006-01-02 15:04 (Monday)"), runtime.GOOS, runtime.GOARCH, workspacePath)

	b.WriteString("\n## Calling Tools\n")
	b.WriteString("To call tools, write one block like the example below anywhere in your reply. ")
	b.WriteString("You may put several invoke elements in one block; they run in order and you will receive every result in the next message.\n\n")
	b.WriteString(invoke.Serialize([]domain.ToolInvocation{
		domain.NewInvocation("execute_command", domain.Param{Name: "command", Value: "ls -la"}),
		domain.NewInvocation("read_file", domain.Param{Name: "file_path", Value: "README.md"}),
	}))
	b.WriteString("\n\nParameter values are taken literally, so do not escape them. ")
	b.WriteString("When the task is finished, reply without any tool block.\n")

	sorted := append([]ToolInfo(nil), tools...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Server != sorted[j].Server {
			return sorted[i].Server < sorted[j].Server
		}
		return sorted[i].Name < sorted[j].Name
	})

	b.WriteString("\n## Available Tools\n")
	if len(sorted) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range sorted {
		b.WriteString("\n### ")
		b.WriteString(t.Name)
		if t.Server != "" {
			fmt.Fprintf(&b, " (server: %s)", t.Server)
		}
		b.WriteByte('\n')
		if t.Description != "" {
			b.WriteString(t.Description)
			b.WriteByte('\n')
		}
		for _, param := range t.Params {
			fmt.Fprintf(&b, "- %s", param.Name)
			if param.Required {
				b.WriteString(" (required)")
			}
			if param.Description != "" {
				b.WriteString(": ")
				b.WriteString(param.Description)
			}
			b.WriteByte('\n')
		}
	}

	if p.systemPromptExtra != "" {
		b.WriteString("\n## Custom Instructions\n")
		b.WriteString(p.systemPromptExtra)
		b.WriteByte('\n')
	}
	return b.String()
}

// BuildMessages constructs [system + history + user message] for a run.
func (p *PromptBuilder) BuildMessages(tools []ToolInfo, history []domain.Message, request string) []domain.Message {
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: p.BuildSystemPrompt(tools)})
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		messages = append(messages, m)
	}
	return append(messages, domain.Message{Role: domain.RoleUser, Content: request})
}
