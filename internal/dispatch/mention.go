package dispatch

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/nextlevelbuilder/companionrt/internal/listener"
	"github.com/nextlevelbuilder/companionrt/internal/queue"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

var reMention = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// MentionDispatcher enqueues a persona-agent job for every distinct,
// resolved-active persona mentioned with @slug in any message not authored
// by a persona, regardless of companion mode. Persona-authored messages are
// never scanned, preventing mention loops between personas.
type MentionDispatcher struct {
	Outbox    store.OutboxStore
	Sessions  store.SessionStore
	Personas  *PersonaDirectory
	Queue     queue.Queue
	BatchSize int
	Log       *slog.Logger
}

func (d *MentionDispatcher) batchSize() int {
	if d.BatchSize <= 0 {
		return 50
	}
	return d.BatchSize
}

func (d *MentionDispatcher) log() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

func (d *MentionDispatcher) Process(ctx context.Context, cursor int64, inProgress []int64) listener.ProcessResult {
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
			d.log().Warn("mention dispatcher: malformed message_created payload, skipping", "outbox_id", e.ID, "error", decodeErr)
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

func (d *MentionDispatcher) handle(ctx context.Context, p MessageCreatedPayload) error {
	if p.AuthorType == "persona" {
		return nil
	}

	matches := reMention.FindAllStringSubmatch(p.ContentMarkdown, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		personaID, ok := d.Personas.ResolveMention(m[1])
		if !ok || seen[personaID] {
			continue
		}
		seen[personaID] = true

		job := queue.PersonaAgentJob{
			WorkspaceID: p.WorkspaceID,
			StreamID:    p.StreamID,
			MessageID:   p.MessageID,
			PersonaID:   personaID,
			TriggeredBy: "MENTION",
		}
		if err := d.Queue.Send(ctx, queue.PersonaAgentQueue, job); err != nil {
			return err
		}
		d.log().Info("mention dispatcher: enqueued persona-agent job",
			"stream_id", p.StreamID, "message_id", p.MessageID, "persona_id", personaID)
	}
	return nil
}
