package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/companionrt/internal/tools"
)

// BridgeTool adapts one remote MCP tool into the companion runtime's
// tools.Tool interface, so the agent runtime's Registry.Execute call can't
// tell an MCP-backed tool from a built-in one.
type BridgeTool struct {
	serverName string
	mcpTool    mcpgo.Tool
	client     *mcpclient.Client
	prefix     string
	connected  *atomic.Bool
}

// NewBridgeTool wraps mcpTool, discovered from serverName, as a registry
// Tool. prefix, when set, is prepended to the tool's registry name
// (serverName-prefixed by default) to avoid collisions between servers
// that happen to expose tools with the same bare name.
func NewBridgeTool(serverName string, mcpTool mcpgo.Tool, client *mcpclient.Client, prefix string, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{serverName: serverName, mcpTool: mcpTool, client: client, prefix: prefix, connected: connected}
}

func (t *BridgeTool) OriginalName() string { return t.mcpTool.Name }

func (t *BridgeTool) Name() string {
	if t.prefix != "" {
		return t.prefix + "_" + t.mcpTool.Name
	}
	return t.serverName + "_" + t.mcpTool.Name
}

func (t *BridgeTool) Description() string {
	return fmt.Sprintf("[mcp:%s] %s", t.serverName, t.mcpTool.Description)
}

// Parameters re-marshals the MCP tool's JSON input schema into the plain
// map[string]interface{} shape providers.ToolFunctionSchema expects.
func (t *BridgeTool) Parameters() map[string]interface{} {
	raw, err := json.Marshal(t.mcpTool.InputSchema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	return params
}

func (t *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.ToolResult {
	if t.connected != nil && !t.connected.Load() {
		return tools.ToolError(fmt.Sprintf("mcp server %q is currently disconnected", t.serverName))
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.mcpTool.Name
	req.Params.Arguments = args

	result, err := t.client.CallTool(ctx, req)
	if err != nil {
		return tools.ToolError(fmt.Sprintf("mcp tool %q call failed: %v", t.Name(), err))
	}

	text := contentToText(result.Content)
	if result.IsError {
		return tools.ToolError(text)
	}
	return tools.NewToolResult(text)
}

func contentToText(items []mcpgo.Content) string {
	var sb strings.Builder
	for i, c := range items {
		if tc, ok := c.(mcpgo.TextContent); ok {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func (t *BridgeTool) Trace() tools.TraceSpec {
	return tools.TraceSpec{StepType: "tool:mcp:" + t.serverName}
}

// ExecutionPhase is always normal: MCP round trips are network calls, the
// early/normal split exists for in-process context-prefetch tools.
func (t *BridgeTool) ExecutionPhase() tools.ExecutionPhase { return tools.PhaseNormal }
