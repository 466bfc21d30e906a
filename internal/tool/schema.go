package tool

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Class groups tools by the kind of side effect they have.
type Class string

const (
	ClassProcess Class = "process"
	ClassFile    Class = "file"
	ClassSearch  Class = "search"
)

// ParamSpec declares one logical parameter and the names it may arrive under.
type ParamSpec struct {
	Name        string   `yaml:"name"`
	Aliases     []string `yaml:"aliases,omitempty"`
	Required    bool     `yaml:"required,omitempty"`
	AllowEmpty  bool     `yaml:"allow_empty,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// Names returns the alias list in priority order, falling back to Name.
func (p ParamSpec) Names() []string {
	if len(p.Aliases) == 0 {
		return []string{p.Name}
	}
	return p.Aliases
}

// Schema is the declared metadata of a tool.
type Schema struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Class       Class       `yaml:"class"`
	Confirm     bool        `yaml:"confirm,omitempty"`
	Params      []ParamSpec `yaml:"params,omitempty"`
}

type schemaDocument struct {
	Tools []Schema `yaml:"tools"`
}

//go:embed schemas.yaml
var builtinSchemas []byte

// DefaultSchemas returns the built-in tool declarations keyed by tool name.
func DefaultSchemas() map[string]Schema {
	schemas, err := ParseSchemas(builtinSchemas)
	if err != nil {
		panic(fmt.Sprintf("builtin tool schemas: %v", err))
	}
	return schemas
}

// ParseSchemas decodes a YAML schema document.
func ParseSchemas(data []byte) (map[string]Schema, error) {
	var doc schemaDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tool schemas: %w", err)
	}
	out := make(map[string]Schema, len(doc.Tools))
	for i, s := range doc.Tools {
		if s.Name == "" {
			return nil, fmt.Errorf("tool schema #%d has no name", i+1)
		}
		for _, p := range s.Params {
			if p.Name == "" {
				return nil, fmt.Errorf("tool %s: parameter without a name", s.Name)
			}
		}
		out[s.Name] = s
	}
	return out, nil
}

// LoadSchemas returns the built-in declarations overlaid with those in path.
// An empty path or a missing file yields the built-ins unchanged.
func LoadSchemas(path string) (map[string]Schema, error) {
	schemas := DefaultSchemas()
	if path == "" {
		return schemas, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return schemas, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tool schemas %s: %w", path, err)
	}
	overrides, err := ParseSchemas(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, s := range overrides {
		schemas[name] = s
	}
	return schemas, nil
}
