// Package agent is the turn execution engine: it connects a model client,
// the tool scheduler, the loop detector, and the history compressor into a
// single-turn-at-a-time orchestrator that front ends drive.
package agent

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/tandem-cli/tandem/config"
	"github.com/tandem-cli/tandem/llm"
	"github.com/tandem-cli/tandem/session"
	"github.com/tandem-cli/tandem/tools"
	"github.com/tandem-cli/tandem/tools/mcp"
)

type Mode string

const (
	// ModeAuto approves every tool confirmation without asking.
	ModeAuto Mode = "auto"
	// ModePrompt asks the operator before any side-effecting tool runs.
	ModePrompt Mode = "prompt"
)

// Hooks lets a front end observe the engine. All callbacks are optional and
// are invoked from engine goroutines.
type Hooks struct {
	// OnEvent receives every canonical stream event of the active turn.
	OnEvent func(llm.Event)
	// OnToolUpdate fires once per tool-call state transition and per
	// progress line. When a call reaches awaiting_approval the front end
	// must eventually answer via RespondToConfirmation.
	OnToolUpdate func(*ScheduledCall)
}

// Agent wires one session to one model client and a set of active tools.
type Agent struct {
	Config  *config.Config
	Session *session.Session
	Client  llm.Client
	Mode    Mode

	orch       *Orchestrator
	scheduler  *Scheduler
	mcpClients []*mcp.Client
}

func New(ctx context.Context, cfg *config.Config, sess *session.Session, toolset string, mode Mode, client llm.Client, hooks Hooks) (*Agent, error) {
	registry := tools.NewRegistry(cfg)

	var mcpClients []*mcp.Client
	for _, server := range cfg.AdditionalMCPServers {
		mc, err := mcp.NewClient(ctx, server.Name, server.Command, server.Args)
		if err != nil {
			for _, c := range mcpClients {
				_ = c.Stop()
			}
			return nil, err
		}
		for _, t := range mc.Tools() {
			registry.Register(t)
		}
		mcpClients = append(mcpClients, mc)
	}

	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}
	activeTools, err := registry.ActiveTools(ts)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		Config:     cfg,
		Session:    sess,
		Client:     client,
		Mode:       mode,
		mcpClients: mcpClients,
	}

	onUpdate := func(sc *ScheduledCall) {
		if mode == ModeAuto && sc.Status == StatusAwaitingApproval {
			_ = a.scheduler.RespondToConfirmation(sc.Call.CallID, ConfirmationResponse{Outcome: OutcomeProceedOnce})
			return
		}
		if hooks.OnToolUpdate != nil {
			hooks.OnToolUpdate(sc)
		}
	}
	a.scheduler = NewScheduler(activeTools, cfg.ToolConcurrency, onUpdate)

	a.orch = &Orchestrator{
		client:     client,
		sess:       sess,
		compressor: NewCompressor(client, cfg.Compression, cfg.Model.ContextWindow),
		scheduler:  a.scheduler,
		detector:   NewLoopDetector(cfg.Model.Strict),
		guard:      newCompressionGuard(),
		system:     buildSystemPrompt(cfg),
		toolDefs:   toolDefinitions(activeTools),
		maxTokens:  cfg.Model.MaxOutputTokens,
		onEvent:    hooks.OnEvent,
		state:      StateIdle,
	}

	return a, nil
}

// RunTurn executes one user turn to completion.
func (a *Agent) RunTurn(ctx context.Context, userInput string) error {
	return a.orch.RunTurn(ctx, userInput)
}

// CompressNow compresses the session on demand. Fails immediately with
// CompressionInProgressError if a compression is already running.
func (a *Agent) CompressNow(ctx context.Context) (*CompressResult, error) {
	return a.orch.CompressNow(ctx)
}

// RespondToConfirmation answers a pending approval prompt.
func (a *Agent) RespondToConfirmation(callID string, resp ConfirmationResponse) error {
	return a.scheduler.RespondToConfirmation(callID, resp)
}

func (a *Agent) State() TurnState     { return a.orch.State() }
func (a *Agent) LastUsage() llm.Usage { return a.orch.LastUsage() }

// Close stops any MCP server subprocesses.
func (a *Agent) Close() {
	for _, c := range a.mcpClients {
		_ = c.Stop()
	}
}

func toolDefinitions(active []tools.Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(active))
	for _, t := range active {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  llm.NormalizeSchema(t.Parameters()),
		})
	}
	return defs
}

func buildSystemPrompt(cfg *config.Config) string {
	wd, _ := os.Getwd()
	return fmt.Sprintf(`You are tandem, a coding assistant operating inside a terminal.
You help with software engineering tasks: reading and editing files, searching
the project, and running commands, always through the tools provided.

Working directory: %s
Operating system: %s

Guidance:
- Prefer editing existing files over rewriting them wholesale.
- Read a file before you modify it.
- Keep answers short; the operator is in a terminal.
- When a task is done, say so plainly and stop calling tools.`, wd, runtime.GOOS)
}
