package store

import (
	"context"
	"encoding/json"
	"time"
)

// EventLogStore is the append-only, immutable record of everything that
// happened. Readers never mutate it; only Append adds rows.
type EventLogStore interface {
	Append(ctx context.Context, streamID, kind string, payload json.RawMessage) (EventLogEntry, error)
}

// OutboxStore is the durable fan-out queue dispatchers read from. Entries
// are strictly ordered by insertion; FetchAfterID always walks forward.
type OutboxStore interface {
	Insert(ctx context.Context, streamID, kind string, payload json.RawMessage) (OutboxEntry, error)
	FetchAfterID(ctx context.Context, cursor int64, limit int, exclude []int64) ([]OutboxEntry, error)
}

// CursorStore implements the cursor-locked listener's lease protocol: a
// single atomic row update checks the previous expiry against now, so at
// most one owner holds a listenerId's lease at a time.
type CursorStore interface {
	// AcquireOrExtend attempts to take or renew ownership of listenerID
	// for owner, valid until now+lease. Returns the cursor's current
	// LastProcessed on success.
	AcquireOrExtend(ctx context.Context, listenerID, owner string, lease time.Duration) (acquired bool, cursor int64, err error)
	// Advance moves the cursor forward. newCursor must be >= the stored
	// value; callers are responsible for that invariant.
	Advance(ctx context.Context, listenerID string, newCursor int64) error
	// Release drops ownership early (on clean shutdown). owner must match
	// the current lease holder or the release is a no-op.
	Release(ctx context.Context, listenerID, owner string) error
}

// AcquireOutcome reports what AcquireOrResume / Complete actually did, so
// callers can distinguish a normal skip from an error.
type AcquireOutcome string

const (
	OutcomeCreated   AcquireOutcome = "created"
	OutcomeResumed   AcquireOutcome = "resumed"
	OutcomeSkipped   AcquireOutcome = "skipped"
	OutcomeCompleted AcquireOutcome = "completed"
	OutcomeFailed    AcquireOutcome = "failed"
)

// AcquireParams is the input to SessionStore.AcquireOrResume.
type AcquireParams struct {
	StreamID         string
	PersonaID        string
	TriggerMessageID string
	ServerID         string
	InitialSequence  int64
}

// CompleteParams is the input to SessionStore.Complete.
type CompleteParams struct {
	LastSeenSequence  int64
	ResponseMessageID string
	SentMessageIDs    []string
}

// SessionStore implements the Session Lifecycle Manager's three-phase
// claim/work/complete protocol plus the orphan reaper's sweep.
type SessionStore interface {
	// AcquireOrResume implements Phase 1. A nil session with
	// outcome==OutcomeSkipped means no work should be done (either
	// already completed, or another running session already owns the
	// stream — enforced by the partial unique index).
	AcquireOrResume(ctx context.Context, p AcquireParams) (*AgentSession, AcquireOutcome, error)
	// Heartbeat writes heartbeatAt=now() for a running session. Called
	// from a background timer during Phase 2; must not be held across
	// LLM calls.
	Heartbeat(ctx context.Context, sessionID string) error
	// Complete implements Phase 3's success path. OutcomeSkipped means
	// the session was concurrently superseded/deleted and the row was
	// not updated — not an error.
	Complete(ctx context.Context, sessionID string, p CompleteParams) (AcquireOutcome, error)
	// Fail implements Phase 3's failure mirror.
	Fail(ctx context.Context, sessionID string, errMsg string) error
	// ReapStale marks every running session whose heartbeat is older
	// than staleThreshold as failed, and returns how many were reaped.
	ReapStale(ctx context.Context, staleThreshold time.Duration) (int, error)
	Get(ctx context.Context, sessionID string) (*AgentSession, error)
	// GetByStream returns the most relevant session for a stream: the
	// running or pending one if any exists, otherwise the most recently
	// created terminal session. Returns nil, nil when the stream has no
	// session at all. Dispatchers use this to implement the "already
	// running" skip and the lastSeenSequence dedupe check.
	GetByStream(ctx context.Context, streamID string) (*AgentSession, error)
}

// StepStore records the agent runtime's trace of one session.
type StepStore interface {
	// StartStep inserts a step with the next stepNumber for sessionID.
	StartStep(ctx context.Context, sessionID, stepType, content string) (*AgentStep, error)
	// CompleteStep fills in completedAt and the final content/sources.
	CompleteStep(ctx context.Context, stepID, content string, sources []SourceItem) error
}

// SummaryStore persists the Rolling Summary Service's per-(stream,
// persona) compacted record.
type SummaryStore interface {
	Get(ctx context.Context, streamID, personaID string) (*RollingSummary, error)
	Upsert(ctx context.Context, streamID, personaID, summary string, lastSummarizedSequence int64) error
}

// MessageListOpts bounds a Messages collaborator query.
type MessageListOpts struct {
	Limit         int
	BeforeSeq     int64
	SinceSeq      int64
	ExcludeAuthor string
}

// CreateMessageParams is the input to MessageStore.CreateMessage.
type CreateMessageParams struct {
	StreamID   string
	AuthorID   string
	AuthorType string
	Content    MessageContent
	Sources    []SourceItem
	SessionID  string
}

// MessageOperation reports whether CreateMessage inserted a new row or
// updated an existing one (used when a pending message is revised during
// reconsideration before being re-sent under the same id).
type MessageOperation string

const (
	MessageCreated MessageOperation = "created"
	MessageEdited  MessageOperation = "edited"
)

// MessageStore is the external Messages collaborator: chat history lives
// here, not in the agent runtime's own tables.
type MessageStore interface {
	List(ctx context.Context, streamID string, opts MessageListOpts) ([]Message, error)
	ListSince(ctx context.Context, streamID string, sinceSeq int64, excludeAuthor string) ([]Message, error)
	FindByID(ctx context.Context, id string) (*Message, error)
	FindByIDs(ctx context.Context, ids []string) ([]Message, error)
	CreateMessage(ctx context.Context, p CreateMessageParams) (id string, op MessageOperation, err error)
}

// AttachmentStore is the external Attachments collaborator.
type AttachmentStore interface {
	FindByMessageID(ctx context.Context, messageID string) ([]Attachment, error)
	FindByMessageIDs(ctx context.Context, messageIDs []string) ([]Attachment, error)
	// AwaitProcessing blocks until every attachment in ids reaches a
	// terminal status, or ctx is cancelled.
	AwaitProcessing(ctx context.Context, ids []string) ([]Attachment, error)
}

// StreamSettingsStore answers the CompanionDispatcher's per-stream
// companion-mode question. A nil, nil result means the stream has no row
// (companion mode defaults to off).
type StreamSettingsStore interface {
	Get(ctx context.Context, streamID string) (*StreamSettings, error)
}

// Stores bundles every storage collaborator the worker wires up at
// startup.
type Stores struct {
	EventLog        EventLogStore
	Outbox          OutboxStore
	Cursors         CursorStore
	Sessions        SessionStore
	Steps           StepStore
	Summaries       SummaryStore
	Messages        MessageStore
	Attachments     AttachmentStore
	StreamSettings  StreamSettingsStore
}
