package tool

import (
	"fmt"
	"strings"

	"cmdloop/internal/domain"
)

// Args holds resolved logical parameter values keyed by ParamSpec.Name.
type Args map[string]string

// ResolveAlias returns the value of the first alias present with a non-empty
// value. The scan follows the order of aliases, never map order.
func ResolveAlias(params domain.Params, aliases ...string) (string, bool) {
	for _, alias := range aliases {
		if v, ok := params.Get(alias); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// MissingParamsError reports required parameters that could not be resolved.
type MissingParamsError struct {
	Tool     string
	Missing  []ParamSpec
	Received []string
}

func (e *MissingParamsError) Error() string {
	missing := make([]string, 0, len(e.Missing))
	for _, p := range e.Missing {
		missing = append(missing, fmt.Sprintf("%s (accepted: %s)", p.Name, strings.Join(p.Names(), ", ")))
	}
	received := "none"
	if len(e.Received) > 0 {
		received = strings.Join(e.Received, ", ")
	}
	return fmt.Sprintf("%s: missing required parameter(s) %s; received parameters: %s",
		e.Tool, strings.Join(missing, "; "), received)
}

// Resolve maps raw invocation parameters onto the schema's logical fields.
func Resolve(schema Schema, params domain.Params) (Args, error) {
	args := make(Args, len(schema.Params))
	var missing []ParamSpec
	for _, spec := range schema.Params {
		names := spec.Names()
		if v, ok := ResolveAlias(params, names...); ok {
			args[spec.Name] = v
			continue
		}
		if spec.AllowEmpty && present(params, names) {
			args[spec.Name] = ""
			continue
		}
		if spec.Required {
			missing = append(missing, spec)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingParamsError{Tool: schema.Name, Missing: missing, Received: params.Names()}
	}
	return args, nil
}

func present(params domain.Params, names []string) bool {
	for _, n := range names {
		if _, ok := params.Get(n); ok {
			return true
		}
	}
	return false
}
