// Package invoke extracts tool invocations embedded in free-form model text.
//
// Two grammars are recognized, tried in order:
//
// Structured:
//
//	<function_calls>
//	<invoke name="read_file">
//	<parameter name="file_path">main.go</parameter>
//	</invoke>
//	</function_calls>
//
// Legacy:
//
//	<tool_calls>
//	<tool_call>
//	<name>read_file</name>
//	<parameters><file_path>main.go</file_path></parameters>
//	</tool_call>
//	</tool_calls>
//
// Scanning is literal: every block ends at the next closing marker, so
// parameter values may contain arbitrary text including markup. Unterminated
// blocks end the scan; whatever was parsed before them is kept.
package invoke
