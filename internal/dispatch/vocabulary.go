package dispatch

import (
	"cmdloop/internal/mcp"
)

// ToolLister reports the tools currently advertised by capability servers.
type ToolLister interface {
	GetAllTools() []mcp.Tool
}

// ParameterNamer reports the declared parameter aliases of local tools.
type ParameterNamer interface {
	ParameterNames() []string
}

// Vocabulary is the legacy-grammar parameter vocabulary: every local alias
// followed by every remote inputSchema property, deduplicated. It is
// recomputed on each call so servers connected later are picked up.
type Vocabulary struct {
	Local  ParameterNamer
	Remote ToolLister // optional
}

func (v Vocabulary) ParameterNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	if v.Local != nil {
		for _, n := range v.Local.ParameterNames() {
			add(n)
		}
	}
	if v.Remote != nil {
		for _, t := range v.Remote.GetAllTools() {
			for _, n := range sortedProperties(t.InputSchema) {
				add(n)
			}
		}
	}
	return names
}
