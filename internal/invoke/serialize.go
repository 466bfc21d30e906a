package invoke

import (
	"strings"

	"cmdloop/internal/domain"
)

// Serialize renders invocations in the structured grammar. Parse(Serialize(x))
// returns x for names and values that do not contain the closing markers.
func Serialize(calls []domain.ToolInvocation) string {
	if len(calls) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(callsOpen)
	b.WriteByte('\n')
	for _, call := range calls {
		b.WriteString(`<invoke name="`)
		b.WriteString(call.Name)
		b.WriteString("\">\n")
		call.Parameters.Each(func(name, value string) {
			b.WriteString(`<parameter name="`)
			b.WriteString(name)
			b.WriteString(`">`)
			b.WriteString(value)
			b.WriteString(paramClose)
			b.WriteByte('\n')
		})
		b.WriteString(invokeClose)
		b.WriteByte('\n')
	}
	b.WriteString(callsClose)
	return b.String()
}
