// Package config holds the runtime configuration for the companion agent
// runtime: database connection, dispatch cursors, the job queue, truncation
// limits, the orphan reaper, and telemetry export.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the companion runtime worker process.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Personas  PersonasConfig  `json:"personas"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Queue     QueueConfig     `json:"queue,omitempty"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Summary   SummaryConfig   `json:"summary,omitempty"`
	Reaper    ReaperConfig    `json:"reaper,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Providers ProvidersConfig `json:"providers"`
	Tools     ToolsConfig     `json:"tools,omitempty"`

	mu sync.RWMutex
}

// DatabaseConfig configures Postgres, the system of record for every store.
// PostgresDSN is NEVER read from the config file (secret) — only from the
// environment, to keep credentials out of version-controlled JSON5.
type DatabaseConfig struct {
	PostgresDSN  string `json:"-"`                      // from env COMPANIONRT_POSTGRES_DSN only
	MaxConns     int    `json:"max_conns,omitempty"`     // pgx pool cap (default 10)
	StatementLog bool   `json:"statement_log,omitempty"` // log every query at debug level
}

// PersonasConfig lists the personas the worker will dispatch for.
type PersonasConfig struct {
	Defaults PersonaDefaults         `json:"defaults"`
	List     map[string]PersonaSpec  `json:"list,omitempty"`
}

// PersonaDefaults are applied to every persona unless overridden.
type PersonaDefaults struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	ContextWindow     int     `json:"context_window"`
}

// PersonaSpec overrides defaults for one persona. Zero values inherit.
type PersonaSpec struct {
	DisplayName       string  `json:"display_name,omitempty"`
	SystemPrompt      string  `json:"system_prompt,omitempty"`
	Provider          string  `json:"provider,omitempty"`
	Model             string  `json:"model,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	MaxToolIterations int     `json:"max_tool_iterations,omitempty"`
	ContextWindow     int     `json:"context_window,omitempty"`
	MentionAliases    FlexibleStringSlice `json:"mention_aliases,omitempty"`
	ToolGroups        FlexibleStringSlice `json:"tool_groups,omitempty"`
}

// DispatchConfig tunes the cursor-locked outbox listener shared by every
// dispatcher.
type DispatchConfig struct {
	PollInterval   string `json:"poll_interval,omitempty"`    // base poll period, Go duration (default "1s")
	MaxPollBackoff string `json:"max_poll_backoff,omitempty"` // cap on empty-poll backoff (default "10s"); no code reads this field
	LeaseDuration  string `json:"lease_duration,omitempty"`   // how long an owner holds the cursor lease (default "30s")
	BatchSize      int    `json:"batch_size,omitempty"`       // events fetched per poll (default 50)
	DebounceWindow string `json:"debounce_window,omitempty"`  // coalesce rapid-fire events per stream (default "2s"); no code reads this field
	ListenChannel  string `json:"listen_channel,omitempty"`   // Postgres NOTIFY channel for the fast path (default "companionrt_outbox")
}

// QueueConfig selects and tunes the job queue backend.
type QueueConfig struct {
	Backend      string `json:"backend,omitempty"`        // "postgres" (default) or "redis"
	RedisAddr    string `json:"-"`                        // from env COMPANIONRT_REDIS_ADDR only
	VisibilityTO string `json:"visibility_timeout,omitempty"` // time before an unacked job is retried (default "60s")
	MaxAttempts  int    `json:"max_attempts,omitempty"`   // retries before a job is parked (default 5)
}

// RuntimeConfig tunes the agent runtime loop shared by all personas.
type RuntimeConfig struct {
	MaxIterations      int    `json:"max_iterations,omitempty"`       // hard ceiling on the LLM/tool loop (default 20)
	PerMessageCharCap  int    `json:"per_message_char_cap,omitempty"` // truncation stage 1 (default 50000)
	AggregateCharCap   int    `json:"aggregate_char_cap,omitempty"`   // truncation stage 2 (default 400000)
	HistoryTurns       int    `json:"history_turns,omitempty"`        // max turns loaded into context (default 40)
	ReconsiderWindow   string `json:"reconsider_window,omitempty"`     // time after a kept response new messages still trigger reconsideration (default "5s"); no code reads this field
	HeartbeatInterval  string `json:"heartbeat_interval,omitempty"`    // session lifecycle heartbeat period (default "10s"); no code reads this field, sessions.Manager heartbeats every sessions.DefaultHeartbeatInterval (15s)
}

// SummaryConfig tunes the rolling summary compaction trigger.
type SummaryConfig struct {
	TriggerMessages int `json:"trigger_messages,omitempty"` // compact once history exceeds this many messages (default 60); no code reads this field
	KeepLastTurns   int `json:"keep_last_turns,omitempty"`  // turns left verbatim after compaction (default 10); no code reads this field
	MaxBatches      int `json:"max_batches,omitempty"`      // bound on batches per compaction run (default 40); no code reads this field, summary.Service uses summary.DefaultMaxBatches
}

// ReaperConfig tunes the orphan reaper sweep.
type ReaperConfig struct {
	Interval       string `json:"interval,omitempty"`        // sweep cadence, cron expression or Go duration (default "*/1 * * * *")
	StaleHeartbeat string `json:"stale_heartbeat,omitempty"` // a running session with no heartbeat for this long is orphaned (default "60s")
}

// TelemetryConfig holds OpenTelemetry export settings for the observer bus.
// The worker does not read it and attaches no trace.OTELObserver, so no
// spans are exported whatever these fields say.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// IsManagedMode reports whether a Postgres DSN has been supplied by the
// environment. A worker with no DSN cannot start — this exists so callers
// can surface a clear startup error instead of a raw connection failure.
func (c *Config) IsManagedMode() bool {
	return c.Database.PostgresDSN != ""
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the config watcher to apply a hot-reloaded file in place.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Database = src.Database
	c.Personas = src.Personas
	c.Dispatch = src.Dispatch
	c.Queue = src.Queue
	c.Runtime = src.Runtime
	c.Summary = src.Summary
	c.Reaper = src.Reaper
	c.Telemetry = src.Telemetry
	c.Providers = src.Providers
	c.Tools = src.Tools
}

// Snapshot returns a shallow copy safe to read without holding c's lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
