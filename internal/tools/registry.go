package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/companionrt/internal/providers"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// ExecutionPhase controls when a tool call runs relative to the rest of the
// iteration's tool batch: early-phase tools (e.g. workspace research
// prefetch) run and have their systemContext folded in before normal-phase
// tools are dispatched.
type ExecutionPhase string

const (
	PhaseEarly  ExecutionPhase = "early"
	PhaseNormal ExecutionPhase = "normal"
)

// TraceSpec tells the session observer how to render this tool's step.
type TraceSpec struct {
	StepType       string
	FormatContent  func(args map[string]interface{}, result *ToolResult) string
	ExtractSources func(result *ToolResult) []store.SourceItem
}

// Tool is the uniform contract every tool implementation satisfies.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
	Trace() TraceSpec
	ExecutionPhase() ExecutionPhase
}

// Registry holds every tool available to the agent runtime and enforces the
// trust boundary uniformly on every result, so individual tool authors never
// need to remember to wrap their own output.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	limiter *rate.Limiter
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// SetRateLimit bounds total tool-call throughput across every registered
// tool to perHour calls/hour, e.g. to cap an MCP server or web tool from
// running away within one long agent turn. perHour <= 0 removes the limit.
func (r *Registry) SetRateLimit(perHour int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = newHourlyLimiter(perHour)
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool, e.g. when its MCP server disconnects.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name, sorted for deterministic policy
// evaluation and testing.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool and applies the trust boundary to its output.
// Returns a tool-error ToolResult, never a Go error, so the agent runtime's
// per-call handling stays uniform regardless of failure mode.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return ToolError(fmt.Sprintf("unknown tool: %s", name))
	}

	r.mu.RLock()
	limiter := r.limiter
	r.mu.RUnlock()
	if limiter != nil && !limiter.Allow() {
		return ToolError(fmt.Sprintf("tool %q rate limit exceeded, try again later", name))
	}

	result := tool.Execute(ctx, args)
	if result == nil {
		return ToolError(fmt.Sprintf("tool %q returned no result", name))
	}
	if !result.IsError {
		result.Output = ApplyTrustBoundary(result.Output)
	}
	return result
}

// ToProviderDef converts a tool's schema into the provider-facing function
// definition sent with the chat request.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
