package domain

import "fmt"

// ToolResult is the normalized outcome of a single dispatch.
// ExitCode is meaningful for process-backed tools only.
type ToolResult struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

// exitFailure is the exit code reported for failures that never ran a process.
const exitFailure = 1

// Succeeded builds a successful result.
func Succeeded(output string) ToolResult {
	return ToolResult{Success: true, Output: output}
}

// Failed builds a failed result with a formatted error.
func Failed(format string, args ...any) ToolResult {
	return ToolResult{Success: false, ExitCode: exitFailure, Error: fmt.Sprintf(format, args...)}
}

// FailedWith builds a failed result from an error.
func FailedWith(err error) ToolResult {
	return ToolResult{Success: false, ExitCode: exitFailure, Error: err.Error()}
}
