package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"cmdloop/internal/domain"
	"cmdloop/internal/mcp"
)

// CoerceArgs converts textual parameter values to the JSON types declared
// in a tool's input schema. Values that do not parse as the declared type,
// and parameters the schema does not mention, are sent as strings.
func CoerceArgs(schema json.RawMessage, params domain.Params) map[string]any {
	types := propertyTypes(schema)
	args := make(map[string]any, params.Len())
	params.Each(func(name, value string) {
		args[name] = coerce(types[name], value)
	})
	return args
}

// propertyTypes maps each top-level property to its declared type. For a
// union such as ["integer","null"] the first non-null member wins.
func propertyTypes(schema json.RawMessage) map[string]string {
	types := make(map[string]string)
	if len(schema) == 0 || !gjson.ValidBytes(schema) {
		return types
	}
	gjson.GetBytes(schema, "properties").ForEach(func(key, prop gjson.Result) bool {
		typ := prop.Get("type")
		if typ.IsArray() {
			for _, member := range typ.Array() {
				if member.String() != "null" {
					types[key.String()] = member.String()
					break
				}
			}
		} else {
			types[key.String()] = typ.String()
		}
		return true
	})
	return types
}

// sortedProperties lists the top-level property names of a schema.
func sortedProperties(schema json.RawMessage) []string {
	types := propertyTypes(schema)
	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func coerce(typ, value string) any {
	trimmed := strings.TrimSpace(value)
	switch typ {
	case "integer":
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n
		}
	case "number":
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(trimmed); err == nil {
			return b
		}
	case "object":
		if gjson.Valid(trimmed) && gjson.Parse(trimmed).IsObject() {
			return json.RawMessage(trimmed)
		}
	case "array":
		if gjson.Valid(trimmed) && gjson.Parse(trimmed).IsArray() {
			return json.RawMessage(trimmed)
		}
	}
	return value
}

func describeRemote(t mcp.Tool, inv domain.ToolInvocation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call remote tool %s on server %s", t.Name, t.Server)
	if inv.Parameters.Len() > 0 {
		b.WriteString(" with ")
		b.WriteString(strings.Join(summarizeParams(inv.Parameters), ", "))
	}
	return b.String()
}

func summarizeParams(params domain.Params) []string {
	var parts []string
	params.Each(func(name, value string) {
		if head, cut := domain.Clip(value, 60); cut {
			value = head + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%q", name, value))
	})
	return parts
}
