package providers

// Option keys internal/worker populates on ChatRequest.Options when it
// builds a persona's request from config.PersonaDefaults/PersonaSpec.
const (
	OptMaxTokens   = "max_tokens"
	OptTemperature = "temperature"
)

// CleanSchemaForProvider strips JSON Schema keywords a provider's tool-call
// API rejects. Locally-defined tools already emit clean schemas, but
// MCP-bridged tools (internal/mcp.BridgeTool.Parameters) forward whatever
// input schema the remote server advertises verbatim, which routinely
// carries a top-level "$schema"/"title"/"additionalProperties" that both
// Anthropic's and OpenAI's tool-schema validators reject outright.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	_ = provider // reserved: no provider needs a different cleaning rule yet
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return cleanSchemaNode(schema)
}

func cleanSchemaNode(node map[string]interface{}) map[string]interface{} {
	cleaned := make(map[string]interface{}, len(node))
	for k, v := range node {
		switch k {
		case "$schema", "$id", "title", "additionalProperties":
			continue
		}
		if props, ok := v.(map[string]interface{}); ok && k == "properties" {
			// Keys under "properties" are parameter names, not keywords.
			cp := make(map[string]interface{}, len(props))
			for name, pv := range props {
				if ps, ok := pv.(map[string]interface{}); ok {
					cp[name] = cleanSchemaNode(ps)
				} else {
					cp[name] = pv
				}
			}
			cleaned[k] = cp
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			cleaned[k] = cleanSchemaNode(nested)
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}

// cleanToolSchemas applies CleanSchemaForProvider to every tool definition's
// parameter schema, returning the provider wire format's tool list shape.
func cleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}
