package tools

import (
	"testing"

	"github.com/nextlevelbuilder/companionrt/internal/config"
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "web_search", result: NewToolResult("ok")})
	reg.Register(&stubTool{name: "web_fetch", result: NewToolResult("ok")})
	reg.Register(&stubTool{name: "custom_tool", result: NewToolResult("ok")})
	return reg
}

func TestFilterTools_FullProfileAllowsEverything(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "full"})
	defs := pe.FilterTools(newTestRegistry(), "persona-1", nil)
	if len(defs) != 3 {
		t.Fatalf("expected all 3 tools allowed, got %d", len(defs))
	}
}

func TestFilterTools_WebProfileRestrictsToWebGroup(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "web"})
	defs := pe.FilterTools(newTestRegistry(), "persona-1", nil)
	if len(defs) != 2 {
		t.Fatalf("expected only web_search and web_fetch, got %d", len(defs))
	}
	for _, d := range defs {
		if d.Function.Name == "custom_tool" {
			t.Fatal("custom_tool should not be allowed under the web profile")
		}
	}
}

func TestFilterTools_MinimalProfileAllowsNothing(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "minimal"})
	defs := pe.FilterTools(newTestRegistry(), "persona-1", nil)
	if len(defs) != 0 {
		t.Fatalf("expected no tools allowed under minimal profile, got %d", len(defs))
	}
}

func TestFilterTools_GlobalDenyRemovesTool(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "full", Deny: []string{"custom_tool"}})
	defs := pe.FilterTools(newTestRegistry(), "persona-1", nil)
	for _, d := range defs {
		if d.Function.Name == "custom_tool" {
			t.Fatal("custom_tool should have been denied")
		}
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 tools remaining, got %d", len(defs))
	}
}

func TestFilterTools_PersonaGroupAllowRestrictsFurther(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "full"})
	defs := pe.FilterTools(newTestRegistry(), "persona-1", []string{"group:web"})
	if len(defs) != 2 {
		t.Fatalf("expected persona restricted to web tools, got %d", len(defs))
	}
}

func TestFilterTools_UnknownProfileFallsBackToFull(t *testing.T) {
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "nonexistent"})
	defs := pe.FilterTools(newTestRegistry(), "persona-1", nil)
	if len(defs) != 3 {
		t.Fatalf("expected fallback to full profile, got %d", len(defs))
	}
}
