package truncation

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

func TestTruncateMessage_PreservesHeadAndMarksTruncation(t *testing.T) {
	body := strings.Repeat("a", 100)
	out := TruncateMessage(store.MessageContent{Text: body}, 40)

	if len(out.Text) > 40 {
		t.Fatalf("expected capped length <= 40, got %d", len(out.Text))
	}
	if !strings.HasPrefix(out.Text, "aaaa") {
		t.Fatalf("expected head preserved, got %q", out.Text)
	}
	if !strings.Contains(out.Text, "truncated") {
		t.Fatalf("expected truncation marker, got %q", out.Text)
	}
}

func TestTruncateMessage_UnderCapIsUnchanged(t *testing.T) {
	out := TruncateMessage(store.MessageContent{Text: "short"}, 40)
	if out.Text != "short" {
		t.Fatalf("expected unchanged content, got %q", out.Text)
	}
}

func TestTruncateMessage_KeepsNonTextPartsVerbatim(t *testing.T) {
	content := store.MessageContent{Parts: []store.ContentPart{
		{Type: "image", URL: "http://example.com/a.png"},
		{Type: "text", Text: strings.Repeat("b", 100)},
	}}
	out := TruncateMessage(content, 10)
	if out.Parts[0].URL != "http://example.com/a.png" {
		t.Fatalf("expected image part untouched, got %+v", out.Parts[0])
	}
	if len(out.Parts[1].Text) > 10 {
		t.Fatalf("expected text part capped, got %d chars", len(out.Parts[1].Text))
	}
}

func TestTruncateHistory_AlwaysKeepsNewestMessage(t *testing.T) {
	huge := strings.Repeat("x", 1000)
	messages := []store.Message{
		{ID: "1", Sequence: 1, Content: store.MessageContent{Text: huge}},
	}
	kept := TruncateHistory(messages, 50_000, 10)
	if len(kept) != 1 {
		t.Fatalf("expected the sole message kept even over cap, got %d", len(kept))
	}
}

func TestTruncateHistory_DropsOldestFirstAndPreservesOrder(t *testing.T) {
	messages := []store.Message{
		{ID: "1", Sequence: 1, Content: store.MessageContent{Text: strings.Repeat("a", 100)}},
		{ID: "2", Sequence: 2, Content: store.MessageContent{Text: strings.Repeat("b", 100)}},
		{ID: "3", Sequence: 3, Content: store.MessageContent{Text: strings.Repeat("c", 100)}},
	}
	kept := TruncateHistory(messages, 50_000, 250)

	if len(kept) != 2 {
		t.Fatalf("expected 2 messages kept under a 250-char aggregate cap, got %d", len(kept))
	}
	if kept[0].ID != "2" || kept[1].ID != "3" {
		t.Fatalf("expected oldest-first order of the newest 2 messages, got %v, %v", kept[0].ID, kept[1].ID)
	}
}
