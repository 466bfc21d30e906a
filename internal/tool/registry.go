package tool

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"cmdloop/internal/domain"
)

// Tool is a locally executed capability.
type Tool interface {
	Schema() Schema
	// Describe renders resolved arguments as a one-line summary for the user.
	Describe(args Args) string
	Run(ctx context.Context, args Args) domain.ToolResult
}

// Registry holds all local tools keyed by exact name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Schema().Name
	r.tools[name] = t
	r.logger.Debug("registered tool", "name", name)
}

func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the schema of every registered tool, sorted by name.
func (r *Registry) Schemas() []Schema {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n].Schema())
	}
	return out
}

// ParameterNames returns every declared parameter alias, deduplicated, in
// tool-name then declaration order.
func (r *Registry) ParameterNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range r.Schemas() {
		for _, p := range s.Params {
			for _, alias := range p.Names() {
				if !seen[alias] {
					seen[alias] = true
					names = append(names, alias)
				}
			}
		}
	}
	return names
}
