package config

// ProvidersConfig maps provider name to its config. Only the LLM providers
// the agent runtime actually calls are modeled here; secrets (APIKey) are
// always filled from the environment, never from the config file.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"-"` // from env only
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != ""
}

// ToolsConfig controls tool availability, trust-boundary policy, and the
// external collaborators (web search/fetch, MCP servers) the tool registry
// wires in.
type ToolsConfig struct {
	Profile          string                      `json:"profile,omitempty"` // "minimal", "research", "full"
	Allow            []string                    `json:"allow,omitempty"`
	Deny             []string                    `json:"deny,omitempty"`
	RateLimitPerHour int                         `json:"rate_limit_per_hour,omitempty"`
	ScrubSecrets     *bool                       `json:"scrub_secrets,omitempty"` // default true
	Web              WebToolsConfig              `json:"web"`
	McpServers       map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`
}

// ShouldScrubSecrets reports whether tool output should pass through secret
// redaction before being handed back to the LLM (default true).
func (t *ToolsConfig) ShouldScrubSecrets() bool {
	return t.ScrubSecrets == nil || *t.ScrubSecrets
}

// MCPServerConfig configures a single external MCP server connection
// wired into the Tool Registry via mark3labs/mcp-go.
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type WebToolsConfig struct {
	Brave      BraveConfig      `json:"brave"`
	DuckDuckGo DuckDuckGoConfig `json:"duckduckgo"`
	FetchUA    string           `json:"fetch_user_agent,omitempty"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"-"` // from env COMPANIONRT_BRAVE_API_KEY only
	MaxResults int    `json:"max_results"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled"`
	MaxResults int  `json:"max_results"`
}
