package contextbuilder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/companionrt/internal/config"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

type fakeAttachments struct {
	byMessage map[string][]store.Attachment
}

func (f *fakeAttachments) FindByMessageID(ctx context.Context, messageID string) ([]store.Attachment, error) {
	return f.byMessage[messageID], nil
}

func (f *fakeAttachments) FindByMessageIDs(ctx context.Context, messageIDs []string) ([]store.Attachment, error) {
	return nil, nil
}

func (f *fakeAttachments) AwaitProcessing(ctx context.Context, ids []string) ([]store.Attachment, error) {
	var out []store.Attachment
	for _, atts := range f.byMessage {
		for _, a := range atts {
			for _, id := range ids {
				if a.ID == id {
					out = append(out, a)
				}
			}
		}
	}
	return out, nil
}

func TestBuild_AppendsAttachmentDescriptorsToTriggerMessage(t *testing.T) {
	attachments := &fakeAttachments{byMessage: map[string][]store.Attachment{
		"msg-1": {{ID: "a1", MessageID: "msg-1", Filename: "notes.png", MimeType: "image/png", Status: store.AttachmentExtracted, Caption: "**a chart** of sales"}},
	}}
	b := New(attachments, nil, nil)

	result, err := b.Build(context.Background(), Input{
		StreamID:   "stream-1",
		StreamType: "channel",
		PersonaID:  "sage",
		Persona:    config.PersonaSpec{DisplayName: "Sage"},
		TriggerMessage: store.Message{
			ID: "msg-1", AuthorID: "u1", AuthorType: "human",
			Content: store.MessageContent{Text: "check this out"}, CreatedAt: time.Now(),
		},
		AuthorNames: map[string]string{"u1": "Alex"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := result.Messages[len(result.Messages)-1]
	if !strings.Contains(last.Content, "check this out") {
		t.Fatalf("expected trigger text in final message, got %q", last.Content)
	}
	if !strings.Contains(last.Content, "notes.png") {
		t.Fatalf("expected attachment descriptor in final message, got %q", last.Content)
	}
	if !strings.Contains(last.Content, "a chart of sales") {
		t.Fatalf("expected markdown caption rendered to plain text, got %q", last.Content)
	}
	if !strings.Contains(last.Content, "Alex") {
		t.Fatalf("expected human author name in trigger message, got %q", last.Content)
	}
}

func TestBuild_PersonaHistoryMessagesAreUnadorned(t *testing.T) {
	b := New(&fakeAttachments{}, nil, nil)

	result, err := b.Build(context.Background(), Input{
		StreamID:  "stream-1",
		PersonaID: "sage",
		History: []store.Message{
			{ID: "m1", Sequence: 1, AuthorID: "u1", AuthorType: "human", Content: store.MessageContent{Text: "hi"}, CreatedAt: time.Now()},
			{ID: "m2", Sequence: 2, AuthorID: "sage", AuthorType: "persona", Content: store.MessageContent{Text: "hello there"}, CreatedAt: time.Now()},
		},
		TriggerMessage: store.Message{ID: "m3", Sequence: 3, AuthorID: "u1", AuthorType: "human", Content: store.MessageContent{Text: "how are you"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var personaMsg *struct{ content string }
	for _, m := range result.Messages {
		if m.Role == "assistant" && strings.Contains(m.Content, "hello there") {
			personaMsg = &struct{ content string }{m.Content}
		}
	}
	if personaMsg == nil {
		t.Fatalf("expected a persona-authored assistant message")
	}
	if personaMsg.content != "hello there" {
		t.Fatalf("expected persona message left unadorned, got %q", personaMsg.content)
	}
}

func TestBuild_StreamTypeSectionReflectsInput(t *testing.T) {
	b := New(&fakeAttachments{}, nil, nil)

	result, err := b.Build(context.Background(), Input{
		StreamID:       "stream-1",
		StreamType:     "dm",
		PersonaID:      "sage",
		TriggerMessage: store.Message{ID: "m1", Content: store.MessageContent{Text: "hey"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	system := result.Messages[0].Content
	if !strings.Contains(system, "direct message") {
		t.Fatalf("expected dm-specific prompt section, got %q", system)
	}
}
