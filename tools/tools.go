// Package tools defines the execution contract the scheduler drives tools
// through, plus the built-in filesystem and shell tools.
//
// The scheduler knows nothing about concrete tool semantics beyond
// Validate / Confirm / Execute.
package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tandem-cli/tandem/config"
	"github.com/tandem-cli/tandem/errors"
)

// Result is the outcome of one tool execution. Content goes back to the
// model; Display is what the terminal shows the operator (falls back to
// Content when empty).
type Result struct {
	Content string
	Display string
}

// ConfirmationKind categorizes what the operator is being asked to approve.
type ConfirmationKind string

const (
	ConfirmEdit     ConfirmationKind = "edit"
	ConfirmExec     ConfirmationKind = "exec"
	ConfirmDelete   ConfirmationKind = "delete"
	ConfirmInfo     ConfirmationKind = "info"
	ConfirmExternal ConfirmationKind = "external-service"
)

// ConfirmationRequest asks the operator to approve one tool call before it
// runs. Root identifies the allow-list bucket a "proceed always" answer
// applies to (usually the tool name, or server name for external tools).
type ConfirmationRequest struct {
	Kind        ConfirmationKind
	Tool        string
	Root        string
	Description string
}

// Tool is the contract every local capability satisfies.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema shape of the tool's arguments.
	Parameters() map[string]interface{}
	// Validate checks arguments synchronously before scheduling.
	Validate(args map[string]interface{}) error
	// Confirm returns nil when the call may run without operator approval.
	Confirm(args map[string]interface{}) *ConfirmationRequest
	// Execute runs the tool. onProgress may be nil; when set it receives
	// incremental human-readable output.
	Execute(ctx context.Context, args map[string]interface{}, onProgress func(string)) (*Result, error)
}

// Registry holds all available tools.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{tools: make(map[string]Tool)}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&EditFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ListFilesTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&SearchFilesTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands})

	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ActiveTools returns the tool instances for a given toolset. MCP tools are
// referenced as "<server>:<tool>" and must already be registered.
func (r *Registry) ActiveTools(ts *config.Toolset) ([]Tool, error) {
	var active []Tool
	for _, toolName := range ts.Tools {
		if strings.Contains(toolName, ":") {
			toolName = toolName[strings.Index(toolName, ":")+1:]
		}
		t, ok := r.Get(toolName)
		if !ok {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
		active = append(active, t)
	}
	return active, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	if len(strings.Fields(command)) == 0 {
		return false, nil
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Fall back to literal comparison for invalid patterns.
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", errors.New("missing or invalid '%s' argument", key)
	}
	return val, nil
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]interface{}, len(required))
		for i, r := range required {
			req[i] = r
		}
		schema["required"] = req
	}
	return schema
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func displayPath(verb, path string) string {
	return fmt.Sprintf("%s %s", verb, path)
}
