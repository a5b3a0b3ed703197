// Package summary implements the Rolling Summary Service: a persistent
// per-(streamId, personaId) compacted summary covering messages older
// than the active truncated window, so recall survives truncation.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/companionrt/internal/providers"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

const (
	DefaultBatchSize  = 40
	DefaultMaxBatches = 40
	maxSummaryChars   = 4000
)

// Service compacts messages the active context window has dropped into a
// single persistent summary, calling the LLM directly the way the
// teacher's own summarization path does (no separate structured-output
// collaborator) and parsing its plain-text response.
type Service struct {
	Summaries store.SummaryStore
	Messages  store.MessageStore
	Provider  providers.Provider
	Model     string
	BatchSize int
	MaxBatches int
	Log       *slog.Logger
}

func New(summaries store.SummaryStore, messages store.MessageStore, provider providers.Provider, model string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Summaries:  summaries,
		Messages:   messages,
		Provider:   provider,
		Model:      model,
		BatchSize:  DefaultBatchSize,
		MaxBatches: DefaultMaxBatches,
		Log:        log,
	}
}

// Compact advances the rolling summary for (streamID, personaID) to cover
// everything up to oldestKept-1, in bounded batches. Errors are non-fatal:
// the previous summary is returned and the failure logged.
func (s *Service) Compact(ctx context.Context, streamID, personaID string, oldestKept int64) (string, error) {
	existing, err := s.Summaries.Get(ctx, streamID, personaID)
	if err != nil {
		s.Log.Warn("rolling summary: load failed, using empty summary", "stream_id", streamID, "persona_id", personaID, "error", err)
		existing = &store.RollingSummary{}
	}

	cursor := existing.LastSummarizedSequence + 1
	currentSummary := existing.Summary
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	maxBatches := s.MaxBatches
	if maxBatches <= 0 {
		maxBatches = DefaultMaxBatches
	}

	for batches := 0; cursor <= oldestKept-1 && batches < maxBatches; batches++ {
		batch, err := s.Messages.List(ctx, streamID, store.MessageListOpts{SinceSeq: cursor - 1, Limit: batchSize})
		if err != nil {
			s.Log.Warn("rolling summary: fetch batch failed, stopping early", "stream_id", streamID, "error", err)
			return currentSummary, nil
		}
		if len(batch) == 0 {
			break
		}

		updated, err := s.summarizeBatch(ctx, currentSummary, batch)
		if err != nil {
			s.Log.Warn("rolling summary: LLM compaction failed, returning previous summary", "stream_id", streamID, "persona_id", personaID, "error", err)
			return currentSummary, nil
		}
		currentSummary = updated

		last := batch[len(batch)-1].Sequence
		if err := s.Summaries.Upsert(ctx, streamID, personaID, currentSummary, last); err != nil {
			s.Log.Warn("rolling summary: upsert failed", "stream_id", streamID, "persona_id", personaID, "error", err)
			return currentSummary, nil
		}
		cursor = last + 1
	}

	return currentSummary, nil
}

func (s *Service) summarizeBatch(ctx context.Context, existingSummary string, batch []store.Message) (string, error) {
	var sb strings.Builder
	for _, m := range batch {
		if m.Content.IsMultipart() {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", m.AuthorType, m.Content.Text)
	}

	prompt := "Provide a concise, updated summary of this conversation, preserving key context and decisions.\n"
	if existingSummary != "" {
		prompt += "Existing summary: " + existingSummary + "\n\n"
	}
	prompt += "New messages since the existing summary:\n" + sb.String()

	resp, err := s.Provider.Chat(ctx, providers.ChatRequest{
		Model:    s.Model,
		Messages: []providers.Message{{Role: "user", Content: prompt}},
		Options:  map[string]any{"max_tokens": 1024, "temperature": 0.3},
	})
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(resp.Content)
	if len(out) > maxSummaryChars {
		out = out[:maxSummaryChars]
	}
	return out, nil
}
