// Package queue implements the Job Queue Interface: an abstract
// FIFO-per-named-queue with at-least-once delivery. Exactly-once
// processing is not the queue's job — the Session Lifecycle Manager's
// single-running-per-stream invariant and unique-per-trigger session
// creation make handlers idempotent regardless of queue-level retries.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job is one unit of work popped from a named queue.
type Job struct {
	ID       string
	Queue    string
	Payload  json.RawMessage
	Attempts int
}

// Handler processes one job. A returned error triggers the queue's retry
// policy; a nil error acks the job.
type Handler func(ctx context.Context, job Job) error

// Queue abstracts the backend (Postgres SKIP LOCKED by default, Redis
// optionally).
type Queue interface {
	// Send enqueues data onto queueName.
	Send(ctx context.Context, queueName string, data any) error
	// Consume runs handler for every job popped from queueName until ctx
	// is cancelled. Blocking; call it in its own goroutine per queue.
	Consume(ctx context.Context, queueName string, handler Handler) error
}

// PersonaAgentJob is the payload the CompanionDispatcher and
// MentionDispatcher enqueue onto the "persona-agent" queue.
type PersonaAgentJob struct {
	WorkspaceID string `json:"workspace_id"`
	StreamID    string `json:"stream_id"`
	MessageID   string `json:"message_id"`
	PersonaID   string `json:"persona_id"`
	TriggeredBy string `json:"triggered_by"` // "MESSAGE" or "MENTION"
}

const PersonaAgentQueue = "persona-agent"

// DefaultVisibilityTimeout is how long a popped-but-unacked job stays invisible
// to other consumers before being retried.
const DefaultVisibilityTimeout = 60 * time.Second
