// Package terminal is the interactive command-line front end. It renders
// the engine's event stream, prompts for tool confirmations in prompt mode,
// and handles slash commands.
package terminal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tandem-cli/tandem/agent"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/llm"
)

// ToolVerbosity controls how much tool activity the terminal shows.
type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// Terminal handles the terminal/CLI interaction mode for the agent.
type Terminal struct {
	agent     *agent.Agent
	verbosity ToolVerbosity
	reader    *bufio.Reader

	// stdinMu serializes confirmation prompts arriving from concurrent tool
	// goroutines; only one question owns stdin at a time.
	stdinMu sync.Mutex

	// printedText tracks whether the current response has emitted any text,
	// so the closing newline is only printed when needed.
	printedText bool
}

// New creates a Terminal. The agent is attached afterwards because the
// agent's hooks point back at the terminal.
func New(verbosity ToolVerbosity) *Terminal {
	return &Terminal{
		verbosity: verbosity,
		reader:    bufio.NewReader(os.Stdin),
	}
}

// Attach binds the agent the terminal drives.
func (t *Terminal) Attach(a *agent.Agent) {
	t.agent = a
}

// Hooks returns the engine callbacks that render to this terminal.
func (t *Terminal) Hooks() agent.Hooks {
	return agent.Hooks{
		OnEvent:      t.onEvent,
		OnToolUpdate: t.onToolUpdate,
	}
}

// Run starts the interactive session loop.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		fmt.Print("You: ")
		line, err := t.reader.ReadString('\n')
		if err != nil {
			// EOF or read error ends the session.
			return nil
		}
		userInput := strings.TrimSpace(line)
		if userInput == "" {
			continue
		}

		switch userInput {
		case "/quit", "/exit":
			return nil
		case "/compress":
			t.compress(ctx)
			continue
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			if sessionFatal(err) {
				return err
			}
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// sessionFatal reports errors no later turn can recover from, such as the
// provider refusing to serve this region at all.
func sessionFatal(err error) bool {
	var region *errors.RegionBlockedError
	return errors.As(err, &region)
}

func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	t.printedText = false
	err := t.agent.RunTurn(ctx, userInput)
	if t.printedText {
		fmt.Println()
	}
	return err
}

func (t *Terminal) compress(ctx context.Context) {
	res, err := t.agent.CompressNow(ctx)
	var inProgress *errors.CompressionInProgressError
	switch {
	case errors.As(err, &inProgress):
		fmt.Println("A compression is already running; try again when it finishes.")
	case errors.Is(err, errors.ErrCompressionSkipped):
		fmt.Println("Nothing to compress yet.")
	case err != nil:
		fmt.Printf("Compression failed: %v\n", err)
	default:
		fmt.Printf("Compressed history: %d -> %d tokens.\n",
			res.Info.OriginalTokenCount, res.Info.NewTokenCount)
	}
}

func (t *Terminal) onEvent(ev llm.Event) {
	switch ev.Kind {
	case llm.EventTextDelta:
		if !t.printedText {
			fmt.Print("Tandem: ")
			t.printedText = true
		}
		fmt.Print(ev.Text)
	case llm.EventToolCall:
		if t.verbosity == ToolVerbosityNone {
			return
		}
		t.breakLine()
		if t.verbosity == ToolVerbosityAll {
			fmt.Printf("[tool] %s %s\n", ev.ToolCall.Name, string(ev.ToolCall.Arguments))
		} else {
			fmt.Printf("[tool] %s\n", ev.ToolCall.Name)
		}
	case llm.EventLoopDetected:
		t.breakLine()
		fmt.Println("[loop detected; stopping this response]")
	case llm.EventChatCompressed:
		t.breakLine()
		fmt.Printf("[history compressed: %d -> %d tokens]\n",
			ev.Compression.OriginalTokenCount, ev.Compression.NewTokenCount)
	}
}

func (t *Terminal) breakLine() {
	if t.printedText {
		fmt.Println()
		t.printedText = false
	}
}

func (t *Terminal) onToolUpdate(sc *agent.ScheduledCall) {
	switch sc.Status {
	case agent.StatusAwaitingApproval:
		t.confirm(sc)
	case agent.StatusExecuting:
		if t.verbosity == ToolVerbosityAll && sc.Progress != "" {
			fmt.Printf("  %s\n", sc.Progress)
		}
	case agent.StatusSuccess:
		if t.verbosity == ToolVerbosityAll && sc.Result != nil {
			display := sc.Result.Display
			if display == "" {
				display = sc.Result.Content
			}
			fmt.Printf("[tool done] %s: %s\n", sc.Call.Name, display)
		}
	case agent.StatusError:
		if t.verbosity != ToolVerbosityNone {
			fmt.Printf("[tool failed] %s: %v\n", sc.Call.Name, sc.Err)
		}
	}
}

func (t *Terminal) confirm(sc *agent.ScheduledCall) {
	t.stdinMu.Lock()
	defer t.stdinMu.Unlock()

	t.breakLine()
	req := sc.Confirmation
	fmt.Printf("Tool %s wants to run (%s): %s\n", req.Tool, req.Kind, req.Description)
	fmt.Print("Allow? [y]es / [a]lways this session / [p] always for this project / [m]odify / [n]o: ")

	answer, err := t.reader.ReadString('\n')
	if err != nil {
		t.respond(sc, agent.ConfirmationResponse{Outcome: agent.OutcomeCancel})
		return
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		t.respond(sc, agent.ConfirmationResponse{Outcome: agent.OutcomeProceedOnce})
	case "a", "always":
		t.respond(sc, agent.ConfirmationResponse{Outcome: agent.OutcomeProceedAlways})
	case "p", "project":
		t.respond(sc, agent.ConfirmationResponse{Outcome: agent.OutcomeProceedAlwaysProject})
	case "m", "modify":
		t.modify(sc)
	default:
		t.respond(sc, agent.ConfirmationResponse{Outcome: agent.OutcomeCancel})
	}
}

func (t *Terminal) modify(sc *agent.ScheduledCall) {
	fmt.Printf("Current arguments: %s\n", string(sc.Call.Arguments))
	fmt.Print("New arguments (JSON object): ")
	line, err := t.reader.ReadString('\n')
	if err != nil {
		t.respond(sc, agent.ConfirmationResponse{Outcome: agent.OutcomeCancel})
		return
	}
	line = strings.TrimSpace(line)
	if !json.Valid([]byte(line)) {
		fmt.Println("Not valid JSON; cancelling the call.")
		t.respond(sc, agent.ConfirmationResponse{Outcome: agent.OutcomeCancel})
		return
	}
	t.respond(sc, agent.ConfirmationResponse{
		Outcome:      agent.OutcomeModify,
		ModifiedArgs: json.RawMessage(line),
	})
}

func (t *Terminal) respond(sc *agent.ScheduledCall, resp agent.ConfirmationResponse) {
	if err := t.agent.RespondToConfirmation(sc.Call.CallID, resp); err != nil {
		fmt.Printf("Could not deliver answer: %v\n", err)
	}
}
