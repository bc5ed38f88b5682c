package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tandem-cli/tandem/config"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/llm"
	"github.com/tandem-cli/tandem/session"
)

const summarizationInstruction = `Summarize the conversation below for your own future reference. ` +
	`Preserve every fact needed to continue the work: the user's goals, decisions made, ` +
	`files read or changed, commands run and their outcomes, and any unresolved problems. ` +
	`Be dense; drop pleasantries.`

// compressToFitMargin leaves headroom under the target window so the very
// next response does not immediately overflow it again.
const compressToFitMargin = 0.9

// CompressResult is the outcome of one successful compression.
type CompressResult struct {
	Summary    string
	NewHistory []session.Message
	Info       llm.CompressionInfo
}

// Compressor shrinks conversation history to fit a token budget by replacing
// the older portion with a model-written summary. It never returns a partial
// result: on any failure the caller keeps the history it had.
type Compressor struct {
	client        llm.Client
	cfg           config.Compression
	contextWindow int
}

func NewCompressor(client llm.Client, cfg config.Compression, contextWindow int) *Compressor {
	return &Compressor{client: client, cfg: cfg, contextWindow: contextWindow}
}

// ShouldCompress reports whether history has crossed the compression
// threshold. force bypasses the threshold but still requires a non-trivial
// history.
func (c *Compressor) ShouldCompress(system string, msgs []session.Message, force bool) bool {
	if len(msgs) <= c.cfg.PreservedPrefix+1 {
		return false
	}
	if force {
		return true
	}
	estimate := llm.EstimateHistoryTokens(system, msgs)
	return float64(estimate) >= c.cfg.Threshold*float64(c.contextWindow)
}

// Compress rewrites msgs so that roughly preserveRatio of the recent
// conversation survives verbatim. The first PreservedPrefix entries are
// environment messages and are never touched; the split index is moved
// forward to the next user boundary so no tool-call/tool-result pair is
// severed. Returns ErrCompressionSkipped when no safe split exists.
func (c *Compressor) Compress(ctx context.Context, system string, msgs []session.Message, preserveRatio float64) (*CompressResult, error) {
	if preserveRatio <= 0 || preserveRatio >= 1 {
		preserveRatio = c.cfg.PreserveRatio
	}
	prefix := c.cfg.PreservedPrefix
	if prefix > len(msgs) {
		prefix = len(msgs)
	}
	remaining := len(msgs) - prefix
	if remaining < 2 {
		return nil, errors.ErrCompressionSkipped
	}

	target := prefix + int(float64(remaining)*(1-preserveRatio))
	if target <= prefix {
		target = prefix + 1
	}
	split, ok := session.NextSafeSplit(msgs, target)
	if !ok || split <= prefix {
		return nil, errors.ErrCompressionSkipped
	}

	originalTokens := llm.EstimateHistoryTokens(system, msgs)

	summary, err := c.summarize(ctx, msgs[prefix:split])
	if err != nil {
		return nil, errors.Wrapf(err, "summarization failed")
	}

	summaryMsg := session.TextMessage(session.RoleUser,
		fmt.Sprintf("Summary of the earlier conversation (compressed to save context):\n\n%s", summary))

	newHistory := make([]session.Message, 0, prefix+1+len(msgs)-split)
	newHistory = append(newHistory, msgs[:prefix]...)
	newHistory = append(newHistory, summaryMsg)
	newHistory = append(newHistory, msgs[split:]...)

	if !session.Validate(newHistory) {
		return nil, errors.New("compression produced an inconsistent history; discarding result")
	}

	return &CompressResult{
		Summary:    summary,
		NewHistory: newHistory,
		Info: llm.CompressionInfo{
			OriginalTokenCount: originalTokens,
			NewTokenCount:      llm.EstimateHistoryTokens(system, newHistory),
		},
	}, nil
}

// CompressToFit compresses for a smaller target context window, deriving the
// preserve ratio from the current token count instead of configuration.
func (c *Compressor) CompressToFit(ctx context.Context, system string, msgs []session.Message, targetWindow int) (*CompressResult, error) {
	current := llm.EstimateHistoryTokens(system, msgs)
	budget := int(compressToFitMargin * float64(targetWindow))
	if current <= budget {
		return nil, errors.ErrCompressionSkipped
	}
	ratio := float64(budget) / float64(current)
	if ratio < 0.1 {
		ratio = 0.1
	}
	if ratio > 0.9 {
		ratio = 0.9
	}
	return c.Compress(ctx, system, msgs, ratio)
}

// summarize sends the compressable span to the model on a throwaway
// auxiliary conversation, never the primary one.
func (c *Compressor) summarize(ctx context.Context, msgs []session.Message) (string, error) {
	transcript := renderTranscript(msgs)
	req := &llm.Request{
		Messages: []session.Message{
			session.TextMessage(session.RoleUser, summarizationInstruction+"\n\n"+transcript),
		},
	}

	events, err := llm.Retry(ctx, llm.DefaultRetryPolicy(), func(ctx context.Context) (<-chan llm.Event, error) {
		return c.client.Send(ctx, req)
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for ev := range events {
		switch ev.Kind {
		case llm.EventTextDelta:
			out.WriteString(ev.Text)
		case llm.EventError:
			return "", ev.Err
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", errors.New("model returned an empty summary")
	}
	return summary, nil
}

func renderTranscript(msgs []session.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		for _, p := range msg.Parts {
			switch p.Kind {
			case session.PartText:
				fmt.Fprintf(&b, "[%s] %s\n", msg.Role, p.Text)
			case session.PartToolCall:
				fmt.Fprintf(&b, "[%s] called tool %s(%s)\n", msg.Role, p.ToolName, string(p.Arguments))
			case session.PartToolResult:
				fmt.Fprintf(&b, "[tool %s] %s\n", p.ToolName, p.Content)
			}
		}
	}
	return b.String()
}
