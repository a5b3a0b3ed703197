// Package worker wires every collaborator package into one running
// process: dispatchers, the persona-agent job consumer, the session
// lifecycle manager, and the orphan reaper, with graceful shutdown on
// context cancellation.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/companionrt/internal/agentruntime"
	"github.com/nextlevelbuilder/companionrt/internal/bus"
	"github.com/nextlevelbuilder/companionrt/internal/config"
	"github.com/nextlevelbuilder/companionrt/internal/contextbuilder"
	"github.com/nextlevelbuilder/companionrt/internal/dispatch"
	"github.com/nextlevelbuilder/companionrt/internal/listener"
	"github.com/nextlevelbuilder/companionrt/internal/mcp"
	"github.com/nextlevelbuilder/companionrt/internal/providers"
	"github.com/nextlevelbuilder/companionrt/internal/queue"
	"github.com/nextlevelbuilder/companionrt/internal/reaper"
	"github.com/nextlevelbuilder/companionrt/internal/realtime"
	"github.com/nextlevelbuilder/companionrt/internal/sessions"
	"github.com/nextlevelbuilder/companionrt/internal/store"
	"github.com/nextlevelbuilder/companionrt/internal/store/pg"
	"github.com/nextlevelbuilder/companionrt/internal/summary"
	"github.com/nextlevelbuilder/companionrt/internal/tools"
	"github.com/nextlevelbuilder/companionrt/internal/trace"
)

// Worker holds every long-lived collaborator the companion pipeline needs
// and runs them together until its context is cancelled.
type Worker struct {
	cfg *config.Config
	log *slog.Logger

	db     *sql.DB
	stores *store.Stores

	providers *providers.Registry
	toolsReg  *tools.Registry
	policy    *tools.PolicyEngine
	mcpMgr    *mcp.Manager

	q       queue.Queue
	persona *dispatch.PersonaDirectory

	companionListener *listener.Listener
	mentionListener   *listener.Listener
	companionDispatch *dispatch.CompanionDispatcher
	mentionDispatch   *dispatch.MentionDispatcher

	sessionMgr *sessions.Manager
	reaper     *reaper.Reaper

	traceBus  *trace.Bus
	publisher *bus.Publisher
	summaries *summary.Service
	builder   *contextbuilder.Builder

	stopNotify func()
}

// New assembles every collaborator from cfg. The returned Worker owns the
// database pool and any queue client; call Close after Run returns.
func New(cfg *config.Config, log *slog.Logger) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}

	stores, db, err := pg.NewStores(cfg.Database.PostgresDSN, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("worker: open stores: %w", err)
	}

	w := &Worker{cfg: cfg, log: log, db: db, stores: stores}

	w.providers = buildProviderRegistry(cfg)
	w.toolsReg = buildToolRegistry(cfg)
	w.policy = tools.NewPolicyEngine(&cfg.Tools)

	if len(cfg.Tools.McpServers) > 0 {
		w.mcpMgr = mcp.NewManager(w.toolsReg, cfg.Tools.McpServers, log.With("component", "mcp"))
	}

	if q, err := buildQueue(cfg, db); err != nil {
		return nil, err
	} else {
		w.q = q
	}

	w.persona = dispatch.NewPersonaDirectory(cfg)

	w.traceBus = trace.NewBus(log.With("component", "trace"))
	w.publisher = bus.NewPublisher()
	w.traceBus.Attach(trace.NewSessionObserver(stores.Steps, w.publisher, "", log.With("component", "session_observer")))

	if anthropic, aerr := w.providers.Get("anthropic"); aerr == nil {
		w.summaries = summary.New(stores.Summaries, stores.Messages, anthropic, cfg.Personas.Defaults.Model, log.With("component", "summary"))
	}
	w.builder = contextbuilder.New(stores.Attachments, w.summaries, log.With("component", "contextbuilder"))
	w.builder.PerMessageCharCap = cfg.Runtime.PerMessageCharCap
	w.builder.AggregateCharCap = cfg.Runtime.AggregateCharCap

	leaseDuration := parseDurationOr(cfg.Dispatch.LeaseDuration, 30*time.Second)
	pollInterval := parseDurationOr(cfg.Dispatch.PollInterval, time.Second)

	w.companionDispatch = &dispatch.CompanionDispatcher{
		Outbox:    stores.Outbox,
		Sessions:  stores.Sessions,
		Streams:   stores.StreamSettings,
		Personas:  w.persona,
		Queue:     w.q,
		BatchSize: cfg.Dispatch.BatchSize,
		Log:       log.With("component", "companion_dispatch"),
	}
	w.companionListener = listener.New(stores.Cursors, listener.Options{
		ListenerID:   "companion-dispatch",
		LockDuration: leaseDuration,
		PollInterval: pollInterval,
	}, log.With("component", "companion_listener"))

	w.mentionDispatch = &dispatch.MentionDispatcher{
		Outbox:    stores.Outbox,
		Sessions:  stores.Sessions,
		Personas:  w.persona,
		Queue:     w.q,
		BatchSize: cfg.Dispatch.BatchSize,
		Log:       log.With("component", "mention_dispatch"),
	}
	w.mentionListener = listener.New(stores.Cursors, listener.Options{
		ListenerID:   "mention-dispatch",
		LockDuration: leaseDuration,
		PollInterval: pollInterval,
	}, log.With("component", "mention_listener"))

	w.sessionMgr = sessions.New(stores.Sessions, hostServerID(), log.With("component", "session_manager"))

	w.reaper = reaper.New(stores.Sessions, parseDurationOr(cfg.Reaper.Interval, time.Minute), parseDurationOr(cfg.Reaper.StaleHeartbeat, time.Minute), log.With("component", "reaper"))
	w.reaper.Schedule = cfg.Reaper.Interval

	return w, nil
}

// Run starts every collaborator and blocks until ctx is cancelled, then
// shuts them all down. Returns the first fatal startup error, if any; a
// clean shutdown returns nil.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if w.mcpMgr != nil {
		w.mcpMgr.Start(ctx)
		defer w.mcpMgr.Stop()
	}
	if rl := w.cfg.Tools.RateLimitPerHour; rl > 0 {
		w.toolsReg.SetRateLimit(rl)
	}

	errCh := make(chan error, 8)

	go func() { errCh <- w.companionListener.Run(ctx, w.companionDispatch.Process) }()
	go func() { errCh <- w.mentionListener.Run(ctx, w.mentionDispatch.Process) }()

	if w.cfg.Database.PostgresDSN != "" && w.cfg.Dispatch.ListenChannel != "" {
		stop, err := listener.WatchNotify(ctx, w.cfg.Database.PostgresDSN, w.cfg.Dispatch.ListenChannel, w.log.With("component", "notify"),
			w.companionListener, w.mentionListener)
		if err != nil {
			w.log.Warn("worker: LISTEN/NOTIFY fast path unavailable, falling back to polling only", "error", err)
		} else {
			w.stopNotify = stop
			defer stop()
		}
	}

	go func() { errCh <- w.q.Consume(ctx, queue.PersonaAgentQueue, w.handlePersonaAgentJob) }()

	go w.reaper.Run(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		cancel()
		return err
	}
}

// Close releases the database pool. Call after Run returns.
func (w *Worker) Close() error {
	if w.db != nil {
		return w.db.Close()
	}
	return nil
}

// NewRealtimeHub builds the WebSocket bridge onto this worker's trace
// publisher, for an HTTP server to mount.
func (w *Worker) NewRealtimeHub() *realtime.Hub {
	return realtime.NewHub(w.publisher, w.log.With("component", "realtime"))
}

func buildProviderRegistry(cfg *config.Config) *providers.Registry {
	var provs []providers.Provider
	if cfg.Providers.Anthropic.APIKey != "" {
		var opts []providers.AnthropicOption
		if cfg.Providers.Anthropic.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(cfg.Providers.Anthropic.Model))
		}
		if cfg.Providers.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase))
		}
		provs = append(provs, providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, opts...))
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		provs = append(provs, providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Providers.OpenAI.Model))
	}
	return providers.NewRegistry(cfg.Personas.Defaults.Provider, provs...)
}

func buildToolRegistry(cfg *config.Config) *tools.Registry {
	reg := tools.NewRegistry()
	if ws := tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveEnabled: cfg.Tools.Web.Brave.Enabled,
		BraveAPIKey:  cfg.Tools.Web.Brave.APIKey,
		DDGEnabled:   cfg.Tools.Web.DuckDuckGo.Enabled,
	}); ws != nil {
		reg.Register(ws)
	}
	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))
	return reg
}

func buildQueue(cfg *config.Config, db *sql.DB) (queue.Queue, error) {
	visibility := parseDurationOr(cfg.Queue.VisibilityTO, queue.DefaultVisibilityTimeout)
	switch cfg.Queue.Backend {
	case "redis":
		if cfg.Queue.RedisAddr == "" {
			return nil, fmt.Errorf("worker: queue backend is redis but no redis address configured")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		return queue.NewRedisQueue(client, visibility, cfg.Queue.MaxAttempts), nil
	default:
		return queue.NewPGQueue(db, visibility, cfg.Queue.MaxAttempts), nil
	}
}

func hostServerID() string {
	return fmt.Sprintf("worker-%d", time.Now().UnixNano())
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// handlePersonaAgentJob is the queue.Handler for the persona-agent queue:
// it runs the session lifecycle's acquire/work/complete protocol wrapping
// one agentruntime.Run call.
func (w *Worker) handlePersonaAgentJob(ctx context.Context, job queue.Job) error {
	var p queue.PersonaAgentJob
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("worker: malformed persona-agent job: %w", err)
	}

	persona, ok := w.cfg.Personas.List[p.PersonaID]
	if !ok {
		w.log.Warn("worker: persona-agent job for unknown persona, dropping", "persona_id", p.PersonaID)
		return nil
	}

	_, err := w.sessionMgr.Run(ctx, store.AcquireParams{
		StreamID:         p.StreamID,
		PersonaID:        p.PersonaID,
		TriggerMessageID: p.MessageID,
		InitialSequence:  0,
	}, func(ctx context.Context, session *store.AgentSession) (store.CompleteParams, error) {
		return w.runTurn(ctx, session, p, persona)
	})
	return err
}

func (w *Worker) runTurn(ctx context.Context, session *store.AgentSession, job queue.PersonaAgentJob, persona config.PersonaSpec) (store.CompleteParams, error) {
	trigger, err := w.stores.Messages.FindByID(ctx, job.MessageID)
	if err != nil {
		return store.CompleteParams{}, fmt.Errorf("worker: load trigger message: %w", err)
	}

	history, err := w.stores.Messages.List(ctx, job.StreamID, store.MessageListOpts{Limit: w.cfg.Runtime.HistoryTurns})
	if err != nil {
		return store.CompleteParams{}, fmt.Errorf("worker: load history: %w", err)
	}

	streamType := "channel"
	if settings, sErr := w.stores.StreamSettings.Get(ctx, job.StreamID); sErr == nil && settings != nil && settings.StreamType != "" {
		streamType = settings.StreamType
	}

	mentionContext := ""
	if job.TriggeredBy == "MENTION" {
		mentionContext = fmt.Sprintf("You were mentioned directly in message %s.", job.MessageID)
	}

	built, err := w.builder.Build(ctx, contextbuilder.Input{
		StreamID:       job.StreamID,
		StreamType:     streamType,
		PersonaID:      job.PersonaID,
		Persona:        persona,
		TriggerMessage: *trigger,
		History:        history,
		MentionContext: mentionContext,
	})
	if err != nil {
		return store.CompleteParams{}, fmt.Errorf("worker: build context: %w", err)
	}

	provider, err := w.providers.Get(persona.Provider)
	if err != nil {
		return store.CompleteParams{}, fmt.Errorf("worker: resolve provider: %w", err)
	}

	model := persona.Model
	if model == "" {
		model = provider.DefaultModel()
	}

	toolDefs := w.policy.FilterTools(w.toolsReg, job.PersonaID, persona.ToolGroups)

	req := agentruntime.Request{
		Session:          session,
		PersonaID:        job.PersonaID,
		StreamID:         job.StreamID,
		Provider:         provider,
		Model:            model,
		Options:          map[string]interface{}{"max_tokens": persona.MaxTokens, "temperature": persona.Temperature},
		Messages:         built.Messages,
		Registry:         w.toolsReg,
		ToolDefs:         toolDefs,
		LastSeenSequence: session.LastSeenSequence,
		MaxIterations:    personaMaxIterations(persona, w.cfg),
		Poll: func(ctx context.Context, sinceSeq int64) ([]store.Message, error) {
			return w.stores.Messages.ListSince(ctx, job.StreamID, sinceSeq, job.PersonaID)
		},
		Send: func(ctx context.Context, text string) (string, bool, error) {
			id, op, err := w.stores.Messages.CreateMessage(ctx, store.CreateMessageParams{
				StreamID:   job.StreamID,
				AuthorID:   job.PersonaID,
				AuthorType: "persona",
				Content:    store.MessageContent{Text: text},
				SessionID:  session.ID,
			})
			return id, op == store.MessageEdited, err
		},
		Trace: w.traceBus,
		Log:   w.log.With("component", "agentruntime", "session_id", session.ID),
	}

	result, err := agentruntime.Run(ctx, req)
	if err != nil {
		return store.CompleteParams{}, err
	}

	return store.CompleteParams{
		LastSeenSequence:  result.LastSeenSequence,
		ResponseMessageID: result.ResponseMessageID,
		SentMessageIDs:    result.SentMessageIDs,
	}, nil
}

func personaMaxIterations(persona config.PersonaSpec, cfg *config.Config) int {
	if persona.MaxToolIterations > 0 {
		return persona.MaxToolIterations
	}
	if cfg.Runtime.MaxIterations > 0 {
		return cfg.Runtime.MaxIterations
	}
	return agentruntime.DefaultMaxIterations
}
