// Package mcp bridges external Model Context Protocol servers into the
// local tool contract.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tandem-cli/tandem/errors"
	"github.com/tandem-cli/tandem/tools"
)

// Client manages the connection to a single MCP server subprocess.
type Client struct {
	Name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools map[string]*Tool
}

// NewClient starts the MCP server subprocess, connects, and discovers the
// tools it provides.
func NewClient(ctx context.Context, name, command string, args []string) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "tandem", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}

	client := &Client{
		Name:  name,
		cmd:   cmd,
		conn:  conn,
		tools: make(map[string]*Tool),
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range list.Tools {
			var schema map[string]interface{}
			if t.InputSchema != nil {
				if data, err := json.Marshal(t.InputSchema); err == nil {
					_ = json.Unmarshal(data, &schema)
				}
			}
			client.tools[t.Name] = &Tool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				schema:      schema,
				client:      client,
			}
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}
	return client, nil
}

// Tools returns the discovered tools for registry registration.
func (c *Client) Tools() []*Tool {
	out := make([]*Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	return out
}

// Stop terminates the MCP server subprocess.
func (c *Client) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// Tool exposes one remote MCP tool through the local tool contract.
type Tool struct {
	serverName  string
	toolName    string
	description string
	schema      map[string]interface{}
	client      *Client
}

func (t *Tool) Name() string        { return t.toolName }
func (t *Tool) Description() string { return t.description }

func (t *Tool) Parameters() map[string]interface{} {
	if t.schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return t.schema
}

// Validate defers to the server; arguments are schema-checked remotely.
func (t *Tool) Validate(args map[string]interface{}) error { return nil }

// Confirm always asks: the server is an external process the engine cannot
// reason about.
func (t *Tool) Confirm(args map[string]interface{}) *tools.ConfirmationRequest {
	return &tools.ConfirmationRequest{
		Kind:        tools.ConfirmExternal,
		Tool:        t.toolName,
		Root:        t.serverName,
		Description: "Call MCP tool " + t.serverName + ":" + t.toolName,
	}
}

func (t *Tool) Execute(ctx context.Context, args map[string]interface{}, onProgress func(string)) (*tools.Result, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call tool '%s'", t.toolName)
	}
	var out string
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			out += text.Text
		}
	}
	return &tools.Result{Content: out}, nil
}
