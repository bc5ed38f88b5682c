package llm

import (
	"encoding/json"
	"strings"
)

// RepairJSON makes truncated streaming JSON parseable. It runs one bounded
// pass tracking quote/escape state and brace/bracket depth, records every
// syntactically safe cut position (end of a complete value), then cuts the
// input back to the latest one that yields valid JSON once the remaining
// open structures are closed. It returns ok=false when nothing salvageable
// remains; callers then substitute the reserved __parseError payload instead
// of dropping the data.
func RepairJSON(input string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return json.RawMessage("{}"), true
	}
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}

	type cut struct {
		end   int // end (exclusive) of the prefix
		depth int // open-structure depth at that point
	}

	var (
		stack    []byte // open '{' and '[' in order
		inString bool
		escaped  bool
		cuts     []cut
	)

	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]

		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
				cuts = append(cuts, cut{i + 1, len(stack)})
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return nil, false
			}
			stack = stack[:len(stack)-1]
			cuts = append(cuts, cut{i + 1, len(stack)})
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return nil, false
			}
			stack = stack[:len(stack)-1]
			cuts = append(cuts, cut{i + 1, len(stack)})
		case 't', 'f', 'n': // true / false / null
			if end, ok := scanLiteral(trimmed, i); ok {
				cuts = append(cuts, cut{end, len(stack)})
				i = end - 1
			}
		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '-':
			end := scanNumber(trimmed, i)
			// A number at the very end of input may itself be truncated;
			// only a number followed by more input is a safe cut point.
			if end < len(trimmed) {
				cuts = append(cuts, cut{end, len(stack)})
			}
			i = end - 1
		}
	}

	// Try cut points newest first. A cut can still be unusable (e.g. it ends
	// on a dangling object key), so fall back until one parses.
	for i := len(cuts) - 1; i >= 0; i-- {
		repaired := strings.TrimRight(trimmed[:cuts[i].end], ", \t\n\r")
		for d := cuts[i].depth - 1; d >= 0; d-- {
			if stack[d] == '{' {
				repaired += "}"
			} else {
				repaired += "]"
			}
		}
		if json.Valid([]byte(repaired)) {
			return json.RawMessage(repaired), true
		}
	}

	return nil, false
}

func scanLiteral(s string, start int) (int, bool) {
	for _, lit := range []string{"true", "false", "null"} {
		if strings.HasPrefix(s[start:], lit) {
			return start + len(lit), true
		}
	}
	return start, false
}

func scanNumber(s string, start int) int {
	i := start
	for i < len(s) && strings.ContainsRune("0123456789+-.eE", rune(s[i])) {
		i++
	}
	return i
}
