package tools

import "fmt"

// Per-tool output character limits. Unlisted tools fall back to
// defaultCharLimit. Limits keep one oversized tool result from swallowing
// the context window before the compressor gets a say.
var toolCharLimits = map[string]int{
	"read_file":       50000,
	"execute_command": 30000,
	"search_files":    20000,
	"list_files":      20000,
}

const defaultCharLimit = 30000

// Truncate applies head/tail truncation to a tool's output using the
// per-tool character limit.
func Truncate(output, toolName string) string {
	maxChars, ok := toolCharLimits[toolName]
	if !ok {
		maxChars = defaultCharLimit
	}
	if len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[Output truncated: %d characters removed from the middle. "+
			"Re-run the tool with more targeted parameters to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}
