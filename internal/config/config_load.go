package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/companionrt/internal/listener"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Personas: PersonasConfig{
			Defaults: PersonaDefaults{
				Provider:          "anthropic",
				Model:             "claude-sonnet-4-5-20250929",
				MaxTokens:         8192,
				Temperature:       0.7,
				MaxToolIterations: 20,
				ContextWindow:     200000,
			},
		},
		Dispatch: DispatchConfig{
			PollInterval:   "1s",
			MaxPollBackoff: "10s",
			LeaseDuration:  "30s",
			BatchSize:      50,
			DebounceWindow: "2s",
			ListenChannel:  "companionrt_outbox",
		},
		Queue: QueueConfig{
			Backend:      "postgres",
			VisibilityTO: "60s",
			MaxAttempts:  5,
		},
		Runtime: RuntimeConfig{
			MaxIterations:     20,
			PerMessageCharCap: 50000,
			AggregateCharCap:  400000,
			HistoryTurns:      40,
			ReconsiderWindow:  "5s",
			HeartbeatInterval: "10s",
		},
		Summary: SummaryConfig{
			TriggerMessages: 60,
			KeepLastTurns:   10,
			MaxBatches:      40,
		},
		Reaper: ReaperConfig{
			Interval:       "*/1 * * * *",
			StaleHeartbeat: "60s",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — the worker runs on defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := listener.ValidateCronSchedule(cfg.Reaper.Interval); err != nil {
		return nil, fmt.Errorf("reaper.interval: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overlays secrets and deployment-specific values from the
// environment. Env vars always win over file values — this is the only
// place API keys and connection strings ever enter the process.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("COMPANIONRT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("COMPANIONRT_REDIS_ADDR", &c.Queue.RedisAddr)
	envStr("COMPANIONRT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("COMPANIONRT_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("COMPANIONRT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("COMPANIONRT_OPENAI_BASE_URL", &c.Providers.OpenAI.APIBase)
	envStr("COMPANIONRT_BRAVE_API_KEY", &c.Tools.Web.Brave.APIKey)

	if v := os.Getenv("COMPANIONRT_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}
}
