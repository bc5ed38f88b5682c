package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tandem-cli/tandem/session"
)

const (
	systemMessageOverhead = 2
	perMessageOverhead    = 4
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// tokenEncoder lazily loads the shared fallback encoding. Provider-exact
// encodings are not worth the download cost here: compression decisions only
// need a stable estimate.
func tokenEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	return encoder
}

// EstimateTokenCount returns the token estimate for a piece of text.
func EstimateTokenCount(text string) int {
	if text == "" {
		return 0
	}
	if enc := tokenEncoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Rough heuristic: 1 token per 4 characters.
	runes := utf8.RuneCountInString(text)
	return (runes + 3) / 4
}

// EstimateHistoryTokens estimates the prompt size of a system prompt plus a
// message history, including per-message protocol overhead.
func EstimateHistoryTokens(system string, msgs []session.Message) int {
	total := EstimateTokenCount(system)
	if system != "" {
		total += systemMessageOverhead
	}
	for _, msg := range msgs {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// EstimateMessageTokens estimates the token cost of one message.
func EstimateMessageTokens(msg session.Message) int {
	tokens := perMessageOverhead
	for _, p := range msg.Parts {
		switch p.Kind {
		case session.PartText:
			tokens += EstimateTokenCount(p.Text)
		case session.PartToolCall:
			tokens += EstimateTokenCount(p.ToolName)
			tokens += EstimateTokenCount(string(p.Arguments))
		case session.PartToolResult:
			tokens += EstimateTokenCount(p.Content)
		}
	}
	return tokens
}
