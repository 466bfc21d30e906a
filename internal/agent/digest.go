package agent

import (
	"fmt"
	"strings"

	"cmdloop/internal/domain"
)

const (
	digestHeader  = "Tool execution results:"
	digestTrailer = "Please analyze these results and continue with the task. Use additional tools only if necessary; otherwise give your final answer."
)

// FormatResults renders the continuation message sent back to the model
// after a batch: one block per invocation, in invocation order.
func FormatResults(invs []domain.ToolInvocation, results []domain.ToolResult) string {
	var b strings.Builder
	b.WriteString(digestHeader)
	b.WriteString("\n\n")
	for i, inv := range invs {
		res := resultAt(results, i)
		fmt.Fprintf(&b, "[%d] Tool: %s\n", i+1, inv.Name)
		fmt.Fprintf(&b, "Exit code: %d\n", res.ExitCode)
		fmt.Fprintf(&b, "Success: %t\n", res.Success)
		if res.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", res.Error)
		}
		if res.Output != "" {
			b.WriteString("Output:\n")
			b.WriteString(res.Output)
			if !strings.HasSuffix(res.Output, "\n") {
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	b.WriteString(digestTrailer)
	return b.String()
}
