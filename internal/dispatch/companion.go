package dispatch

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/companionrt/internal/listener"
	"github.com/nextlevelbuilder/companionrt/internal/queue"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// CompanionDispatcher enqueues a persona-agent job for every human message
// in a stream that has companion mode on, skipping streams whose in-flight
// or already-absorbed session makes a new job redundant.
type CompanionDispatcher struct {
	Outbox    store.OutboxStore
	Sessions  store.SessionStore
	Streams   store.StreamSettingsStore
	Personas  *PersonaDirectory
	Queue     queue.Queue
	BatchSize int
	Log       *slog.Logger
}

func (d *CompanionDispatcher) batchSize() int {
	if d.BatchSize <= 0 {
		return 50
	}
	return d.BatchSize
}

func (d *CompanionDispatcher) log() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

// Process implements listener.Process. It always advances the cursor past
// every entry it successfully inspected, including ones it decided to
// skip — skipping is not an error.
func (d *CompanionDispatcher) Process(ctx context.Context, cursor int64, inProgress []int64) listener.ProcessResult {
	entries, err := d.Outbox.FetchAfterID(ctx, cursor, d.batchSize(), inProgress)
	if err != nil {
		return listener.ProcessResult{Kind: listener.ResultError, Err: err}
	}
	if len(entries) == 0 {
		return listener.ProcessResult{Kind: listener.ResultNoEvents}
	}

	processedTo := cursor
	for _, e := range entries {
		if e.Kind != MessageCreatedKind {
			processedTo = e.ID
			continue
		}

		payload, decodeErr := decodeMessageCreated(e.Payload)
		if decodeErr != nil {
			d.log().Warn("companion dispatcher: malformed message_created payload, skipping", "outbox_id", e.ID, "error", decodeErr)
			processedTo = e.ID
			continue
		}

		if handleErr := d.handle(ctx, payload); handleErr != nil {
			return listener.ProcessResult{Kind: listener.ResultError, NewCursor: processedTo, Err: handleErr}
		}
		processedTo = e.ID
	}

	return listener.ProcessResult{Kind: listener.ResultProcessed, NewCursor: processedTo}
}

func (d *CompanionDispatcher) handle(ctx context.Context, p MessageCreatedPayload) error {
	if p.AuthorType != "human" {
		return nil
	}

	settings, err := d.Streams.Get(ctx, p.StreamID)
	if err != nil {
		return err
	}
	if settings == nil || !settings.CompanionEnabled || settings.PersonaID == "" {
		return nil
	}
	if !d.Personas.IsActive(settings.PersonaID) {
		return nil
	}

	existing, err := d.Sessions.GetByStream(ctx, p.StreamID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Status == store.SessionRunning || existing.Status == store.SessionPending {
			return nil
		}
		if existing.Status == store.SessionCompleted && existing.LastSeenSequence >= p.MessageSequence {
			return nil
		}
	}

	job := queue.PersonaAgentJob{
		WorkspaceID: p.WorkspaceID,
		StreamID:    p.StreamID,
		MessageID:   p.MessageID,
		PersonaID:   settings.PersonaID,
		TriggeredBy: "MESSAGE",
	}
	if err := d.Queue.Send(ctx, queue.PersonaAgentQueue, job); err != nil {
		return err
	}
	d.log().Info("companion dispatcher: enqueued persona-agent job",
		"stream_id", p.StreamID, "message_id", p.MessageID, "persona_id", settings.PersonaID)
	return nil
}
