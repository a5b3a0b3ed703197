package providers

import "testing"

func TestCleanSchemaForProvider_StripsRejectedKeywords(t *testing.T) {
	schema := map[string]interface{}{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"$id":                  "https://example.com/schema",
		"title":                "Search params",
		"additionalProperties": false,
		"type":                 "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"$schema": "nested should be stripped too",
				"type":    "string",
			},
		},
	}

	cleaned := CleanSchemaForProvider("anthropic", schema)

	for _, key := range []string{"$schema", "$id", "title", "additionalProperties"} {
		if _, ok := cleaned[key]; ok {
			t.Errorf("expected %q stripped from top level", key)
		}
	}
	if cleaned["type"] != "object" {
		t.Errorf("expected type preserved, got %v", cleaned["type"])
	}

	props := cleaned["properties"].(map[string]interface{})
	query := props["query"].(map[string]interface{})
	if _, ok := query["$schema"]; ok {
		t.Error("expected $schema stripped from nested node")
	}
	if query["type"] != "string" {
		t.Errorf("expected nested type preserved, got %v", query["type"])
	}
}

func TestCleanSchemaForProvider_NilSchema(t *testing.T) {
	cleaned := CleanSchemaForProvider("openai", nil)
	if cleaned["type"] != "object" {
		t.Errorf("expected a default object schema for nil input, got %v", cleaned)
	}
	props, ok := cleaned["properties"].(map[string]interface{})
	if !ok || len(props) != 0 {
		t.Errorf("expected empty properties map, got %v", cleaned["properties"])
	}
}

func TestCleanToolSchemas(t *testing.T) {
	tools := []ToolDefinition{
		{
			Type: "function",
			Function: ToolFunctionSchema{
				Name:        "get_weather",
				Description: "Get the weather for a city",
				Parameters: map[string]interface{}{
					"$schema": "http://json-schema.org/draft-07/schema#",
					"type":    "object",
				},
			},
		},
	}

	out := cleanToolSchemas("openai", tools)
	if len(out) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(out))
	}
	fn := out[0]["function"].(map[string]interface{})
	if fn["name"] != "get_weather" {
		t.Errorf("expected name get_weather, got %v", fn["name"])
	}
	params := fn["parameters"].(map[string]interface{})
	if _, ok := params["$schema"]; ok {
		t.Error("expected $schema stripped from tool parameters")
	}
}
