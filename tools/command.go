package tools

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/tandem-cli/tandem/errors"
)

// killGracePeriod is how long a cancelled command gets to exit after SIGTERM
// before it is killed outright.
const killGracePeriod = 5 * time.Second

// ExecuteCommandTool runs OS commands from the configured allow-list.
type ExecuteCommandTool struct {
	allowedCommands []string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }

func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command. No commands are currently allowed. Args: command (string)."
	}
	allowedList := "Allowed command patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}
	return fmt.Sprintf("Executes a shell command. Args: command (string).\n%s", allowedList)
}

func (t *ExecuteCommandTool) Parameters() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"command": stringProp("The command line to execute."),
	}, "command")
}

func (t *ExecuteCommandTool) Validate(args map[string]interface{}) error {
	command, err := stringArg(args, "command")
	if err != nil {
		return err
	}
	allowed, err := isCommandAllowed(command, t.allowedCommands)
	if err != nil {
		return err
	}
	if !allowed {
		return errors.New("command '%s' is not in the list of allowed commands", command)
	}
	return nil
}

func (t *ExecuteCommandTool) Confirm(args map[string]interface{}) *ConfirmationRequest {
	command, _ := args["command"].(string)
	return &ConfirmationRequest{
		Kind:        ConfirmExec,
		Tool:        t.Name(),
		Root:        commandRoot(command),
		Description: fmt.Sprintf("Run `%s`", command),
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}, onProgress func(string)) (*Result, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	// Graceful cancellation: SIGTERM first, escalate to SIGKILL after the
	// grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open stdout pipe")
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start command '%s'", command)
	}

	var output strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		output.WriteString(line)
		output.WriteByte('\n')
		if onProgress != nil {
			onProgress(line)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "command execution failed. Output:\n%s", output.String())
	}

	return &Result{
		Content: Truncate(fmt.Sprintf("Command executed successfully. Output:\n%s", output.String()), t.Name()),
		Display: fmt.Sprintf("Ran `%s`", command),
	}, nil
}

// commandRoot is the allow-list bucket a "proceed always" answer covers: the
// executable name, not the full argument vector.
func commandRoot(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return command
	}
	return fields[0]
}
