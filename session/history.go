package session

// History helpers used by the compressor: a compression split must never
// land between a tool call and its result, so split points are always
// user-role messages that do not carry tool results.

// IsSafeSplitPoint reports whether index i can begin the preserved suffix of
// a compressed history. The entry must be user-role plain input: a tool
// result rides a user-role message on most wire protocols but belongs to the
// model message before it.
func IsSafeSplitPoint(msgs []Message, i int) bool {
	if i < 0 || i >= len(msgs) {
		return false
	}
	m := msgs[i]
	return m.Role == RoleUser && !m.HasToolResults()
}

// NextSafeSplit returns the first safe split point at or after index from,
// and false when none exists before the end of the history.
func NextSafeSplit(msgs []Message, from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(msgs); i++ {
		if IsSafeSplitPoint(msgs, i) {
			return i, true
		}
	}
	return 0, false
}

// Validate checks the structural invariants of a history: it must not end
// mid tool-call/tool-result pair, and every result must answer a call issued
// by the preceding model message.
func Validate(msgs []Message) bool {
	pending := map[string]bool{}
	for _, m := range msgs {
		for _, p := range m.Parts {
			switch p.Kind {
			case PartToolCall:
				pending[p.CallID] = true
			case PartToolResult:
				if !pending[p.CallID] {
					return false
				}
				delete(pending, p.CallID)
			}
		}
	}
	return len(pending) == 0
}
