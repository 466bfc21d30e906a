package domain

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Params is an insertion-ordered mapping of parameter name to raw text value.
// It is read-only once built; use ParamsBuilder to construct one.
type Params struct {
	m *orderedmap.OrderedMap[string, string]
}

// Param is a single name/value pair.
type Param struct {
	Name  string
	Value string
}

// NewParams builds Params from pairs. A repeated name keeps its first position
// and takes the last value.
func NewParams(pairs ...Param) Params {
	var b ParamsBuilder
	for _, p := range pairs {
		b.Set(p.Name, p.Value)
	}
	return b.Build()
}

// Get returns the value stored under name.
func (p Params) Get(name string) (string, bool) {
	if p.m == nil {
		return "", false
	}
	return p.m.Get(name)
}

// Len returns the number of parameters.
func (p Params) Len() int {
	if p.m == nil {
		return 0
	}
	return p.m.Len()
}

// Names returns parameter names in insertion order.
func (p Params) Names() []string {
	names := make([]string, 0, p.Len())
	p.Each(func(name, _ string) {
		names = append(names, name)
	})
	return names
}

// Pairs returns a copy of all parameters in insertion order.
func (p Params) Pairs() []Param {
	pairs := make([]Param, 0, p.Len())
	p.Each(func(name, value string) {
		pairs = append(pairs, Param{Name: name, Value: value})
	})
	return pairs
}

// Each calls fn for every parameter in insertion order.
func (p Params) Each(fn func(name, value string)) {
	if p.m == nil {
		return
	}
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// Equal reports whether both mappings hold the same pairs in the same order.
func (p Params) Equal(o Params) bool {
	a, b := p.Pairs(), o.Pairs()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ParamsBuilder accumulates parameters before they are frozen into Params.
type ParamsBuilder struct {
	m *orderedmap.OrderedMap[string, string]
}

// Set adds or replaces a parameter.
func (b *ParamsBuilder) Set(name, value string) {
	if b.m == nil {
		b.m = orderedmap.New[string, string]()
	}
	b.m.Set(name, value)
}

// Build returns the accumulated Params. The builder must not be reused.
func (b *ParamsBuilder) Build() Params {
	p := Params{m: b.m}
	b.m = nil
	return p
}

// ToolInvocation is one parsed request to run a named tool.
type ToolInvocation struct {
	Name       string
	Parameters Params
}

// NewInvocation is a convenience constructor used by tests and callers that
// build invocations programmatically.
func NewInvocation(name string, pairs ...Param) ToolInvocation {
	return ToolInvocation{Name: name, Parameters: NewParams(pairs...)}
}

// Equal compares name and ordered parameters.
func (inv ToolInvocation) Equal(o ToolInvocation) bool {
	return inv.Name == o.Name && inv.Parameters.Equal(o.Parameters)
}

func (inv ToolInvocation) String() string {
	parts := make([]string, 0, inv.Parameters.Len())
	inv.Parameters.Each(func(name, value string) {
		parts = append(parts, fmt.Sprintf("%s=%q", name, value))
	})
	return fmt.Sprintf("%s(%s)", inv.Name, strings.Join(parts, ", "))
}
