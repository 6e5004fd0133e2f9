package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/flowforge-io/flowforge/pkg/llm"
)

// ToolResult is the outcome of one tool invocation. Failures are returned as
// content with IsError set, never as Go errors, so the model can react.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// ToolExecutor exposes the tools of the connected MCP servers to agentic
// tasks under server-prefixed names ("calc.add").
type ToolExecutor struct {
	client *Client
}

func NewToolExecutor(client *Client) *ToolExecutor {
	return &ToolExecutor{client: client}
}

// ListToolDefinitions returns the tools of every connected server in the
// shape the model client expects. Servers that fail to list are skipped;
// partial tools are better than none.
func (e *ToolExecutor) ListToolDefinitions(ctx context.Context) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, serverID := range e.client.ServerIDs() {
		tools, err := e.client.ListTools(ctx, serverID)
		if err != nil {
			e.client.logger.Warn("failed to list tools", "server", serverID, "error", err)
			continue
		}
		for _, tool := range tools {
			defs = append(defs, llm.ToolDefinition{
				Name:        fmt.Sprintf("%s.%s", serverID, tool.Name),
				Description: tool.Description,
				InputSchema: schemaMap(tool.InputSchema),
			})
		}
	}
	return defs
}

// Execute runs one tool call: split the server-prefixed name, parse the
// JSON arguments, call the server, flatten the text content.
func (e *ToolExecutor) Execute(ctx context.Context, call llm.ToolCall) *ToolResult {
	serverID, toolName, ok := splitToolName(call.Name)
	if !ok {
		return &ToolResult{
			CallID: call.ID, Name: call.Name, IsError: true,
			Content: fmt.Sprintf("tool name %q is not of the form server.tool", call.Name),
		}
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return &ToolResult{
				CallID: call.ID, Name: call.Name, IsError: true,
				Content: fmt.Sprintf("failed to parse tool arguments: %s", err),
			}
		}
	}

	result, err := e.client.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return &ToolResult{
			CallID: call.ID, Name: call.Name, IsError: true,
			Content: fmt.Sprintf("tool execution failed: %s", err),
		}
	}

	return &ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: extractTextContent(result),
		IsError: result.IsError,
	}
}

// splitToolName splits "server.tool" on the first dot. Tool names may
// themselves contain dots.
func splitToolName(name string) (serverID, toolName string, ok bool) {
	idx := strings.Index(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// extractTextContent concatenates the text items of a result. Non-text
// content (images, resources) is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func schemaMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
