package agent

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/llm"
	"github.com/tandem-cli/tandem/session"
)

// TurnState is the lifecycle state of the turn currently being executed.
type TurnState string

const (
	StateIdle          TurnState = "idle"
	StateSending       TurnState = "sending"
	StateStreaming     TurnState = "streaming"
	StateToolPending   TurnState = "tool_pending"
	StateComplete      TurnState = "complete"
	StateTurnCancelled TurnState = "cancelled"
	StateFailed        TurnState = "failed"
)

const loopFeedback = "You appear to be stuck in a loop, repeating the same action " +
	"without making progress. Stop, reconsider the task, and try a different approach."

// Orchestrator executes one user turn at a time: it sends the conversation
// to the model, streams the response, dispatches tool calls through the
// scheduler, and keeps going until the model finishes without requesting
// tools. It owns the session history for the duration of a turn.
type Orchestrator struct {
	client     llm.Client
	sess       *session.Session
	compressor *Compressor
	scheduler  *Scheduler
	detector   *LoopDetector
	guard      *compressionGuard

	system    string
	toolDefs  []llm.ToolDefinition
	maxTokens int

	onEvent func(llm.Event)

	state     TurnState
	lastUsage llm.Usage
}

func (o *Orchestrator) State() TurnState { return o.state }

// LastUsage returns the token accounting from the most recent model response.
func (o *Orchestrator) LastUsage() llm.Usage { return o.lastUsage }

func (o *Orchestrator) emit(ev llm.Event) {
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}

// RunTurn executes one full user turn. It blocks while another compression
// is in flight, compresses proactively if history has crossed the threshold,
// then drives the send / stream / tool cycle to completion. History is
// persisted after every model response and tool batch.
//
// The guard is held for the whole turn: a manual /compress must never
// rewrite history that a live stream is still appending to.
func (o *Orchestrator) RunTurn(ctx context.Context, userInput string) error {
	if err := o.guard.Acquire(ctx); err != nil {
		o.state = StateFailed
		return err
	}
	defer o.guard.Release()

	if err := o.maybeCompress(ctx); err != nil {
		o.state = StateFailed
		return err
	}

	o.detector.Reset()
	o.sess.AddMessage(session.TextMessage(session.RoleUser, userInput))

	for {
		finished, err := o.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				o.state = StateTurnCancelled
			} else {
				o.state = StateFailed
			}
			o.saveQuietly()
			return err
		}
		if finished {
			o.state = StateComplete
			o.saveQuietly()
			return nil
		}
	}
}

// maybeCompress shrinks the history before the first request of a turn when
// it has crossed the threshold. The caller already holds the guard.
func (o *Orchestrator) maybeCompress(ctx context.Context) error {
	if !o.compressor.ShouldCompress(o.system, o.sess.Messages, false) {
		return nil
	}
	res, err := o.compressor.Compress(ctx, o.system, o.sess.Messages, 0)
	if errors.Is(err, errors.ErrCompressionSkipped) {
		return nil
	}
	if err != nil {
		return err
	}
	o.applyCompression(res)
	return nil
}

// CompressNow compresses on operator demand. It never waits: if the guard
// is held, whether by another compression or by an active turn, the caller
// gets a CompressionInProgressError immediately.
func (o *Orchestrator) CompressNow(ctx context.Context) (*CompressResult, error) {
	if err := o.guard.TryAcquire(); err != nil {
		return nil, err
	}
	defer o.guard.Release()

	if !o.compressor.ShouldCompress(o.system, o.sess.Messages, true) {
		return nil, errors.ErrCompressionSkipped
	}
	res, err := o.compressor.Compress(ctx, o.system, o.sess.Messages, 0)
	if err != nil {
		return nil, err
	}
	o.applyCompression(res)
	return res, nil
}

func (o *Orchestrator) applyCompression(res *CompressResult) {
	o.sess.ReplaceMessages(res.NewHistory)
	o.saveQuietly()
	o.emit(llm.Event{Kind: llm.EventChatCompressed, Compression: &res.Info})
}

// step performs one model round trip: send, stream, and if the model asked
// for tools, run them and queue their results. Returns finished=true when
// the model stopped without tool calls or the turn must end early.
func (o *Orchestrator) step(ctx context.Context) (bool, error) {
	o.state = StateSending
	req := &llm.Request{
		System:    o.system,
		Messages:  o.sess.Messages,
		Tools:     o.toolDefs,
		MaxTokens: o.maxTokens,
		PromptID:  uuid.NewString(),
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	events, err := llm.Retry(ctx, llm.DefaultRetryPolicy(), func(ctx context.Context) (<-chan llm.Event, error) {
		return o.client.Send(streamCtx, req)
	})
	if err != nil {
		return false, err
	}

	o.state = StateStreaming
	var text strings.Builder
	var calls []llm.ToolCall
	var streamErr error
	looped := false

	for ev := range events {
		if !looped && o.detector.Check(ev) {
			looped = true
			o.emit(llm.Event{Kind: llm.EventLoopDetected})
			cancelStream()
			continue
		}
		switch ev.Kind {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			o.emit(ev)
		case llm.EventReasoningDelta:
			o.emit(ev)
		case llm.EventToolCall:
			calls = append(calls, *ev.ToolCall)
			o.emit(ev)
		case llm.EventUsage:
			o.lastUsage = *ev.Usage
			o.emit(ev)
		case llm.EventError:
			streamErr = ev.Err
		case llm.EventFinished:
			o.emit(ev)
		}
	}

	// Whatever arrived before an abort still belongs to the history.
	aborted := looped || streamErr != nil || ctx.Err() != nil
	o.flushModelMessage(text.String(), calls, aborted)

	if looped {
		o.sess.AddMessage(session.TextMessage(session.RoleUser, loopFeedback))
		o.saveQuietly()
		return true, nil
	}
	if streamErr != nil {
		return false, streamErr
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if len(calls) == 0 {
		// A response with no text at all is still a clean finish.
		return true, nil
	}

	o.state = StateToolPending
	batch := o.scheduler.Schedule(ctx, calls)
	parts, allCancelled := BatchResults(batch)
	if len(parts) > 0 {
		o.sess.AddMessage(session.Message{Role: session.RoleUser, Parts: parts})
	}
	o.saveQuietly()
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if allCancelled {
		// The operator rejected the whole batch; the results stay in the
		// session but are not played back to the model this turn.
		return true, nil
	}
	return false, nil
}

// flushModelMessage appends the model's (possibly partial) response. When
// the turn is ending early the message is marked cancelled and its tool
// calls are dropped, since no results will ever pair with them.
func (o *Orchestrator) flushModelMessage(text string, calls []llm.ToolCall, aborted bool) {
	var parts []session.Part
	if text != "" {
		parts = append(parts, session.Part{Kind: session.PartText, Text: text})
	}
	if !aborted {
		for _, call := range calls {
			parts = append(parts, session.Part{
				Kind:      session.PartToolCall,
				CallID:    call.CallID,
				ToolName:  call.Name,
				Arguments: call.Arguments,
			})
		}
	}
	if len(parts) == 0 {
		return
	}
	o.sess.AddMessage(session.Message{Role: session.RoleModel, Parts: parts, Cancelled: aborted})
	o.saveQuietly()
}

func (o *Orchestrator) saveQuietly() {
	// A failed save must not abort the turn; the history lives in memory.
	_ = o.sess.Save()
}
