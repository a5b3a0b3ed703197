package tools

import (
	"github.com/nextlevelbuilder/companionrt/internal/providers"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// MultimodalItem is a piece of non-text content a tool wants injected as a
// fresh user-role message in the next iteration (e.g. an image the model
// asked to see).
type MultimodalItem struct {
	Type string `json:"type"` // "image"
	URL  string `json:"url"`
}

// ToolResult is the uniform return type from tool execution.
type ToolResult struct {
	Output string `json:"output"` // content sent to the LLM, wrapped by the trust boundary

	Multimodal    []MultimodalItem  `json:"multimodal,omitempty"`
	Sources       []store.SourceItem `json:"sources,omitempty"`
	SystemContext string            `json:"system_context,omitempty"` // folded into later iterations' system prompt

	IsError bool  `json:"is_error"`
	Err     error `json:"-"`

	// Usage holds token usage from tools that make internal LLM calls.
	// When set, the agent runtime records these on the tool's trace step.
	Usage    *providers.Usage `json:"-"`
	Provider string           `json:"-"`
	Model    string           `json:"-"`
}

func NewToolResult(output string) *ToolResult {
	return &ToolResult{Output: output}
}

func ToolError(message string) *ToolResult {
	return &ToolResult{Output: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

func (r *ToolResult) WithSources(sources []store.SourceItem) *ToolResult {
	r.Sources = sources
	return r
}

func (r *ToolResult) WithSystemContext(ctx string) *ToolResult {
	r.SystemContext = ctx
	return r
}
