// Package truncation implements the Agent Runtime's two-stage,
// deterministic history truncation: a per-message cap first, then an
// aggregate cap applied newest-to-oldest. Older messages are dropped, not
// summarized — the Rolling Summary Service handles persistent compaction
// out-of-band.
package truncation

import "github.com/nextlevelbuilder/companionrt/internal/store"

const (
	// DefaultPerMessageCharCap truncates any single message body past
	// this length, preserving the head and appending a marker.
	DefaultPerMessageCharCap = 50_000
	// DefaultAggregateCharCap bounds the total size of the kept message
	// window.
	DefaultAggregateCharCap = 400_000
)

const truncationMarker = "\n…[truncated]"

// TruncateMessage applies the per-message cap to one message's content.
// Non-text parts (images) are kept verbatim; only the text body is capped.
func TruncateMessage(content store.MessageContent, capChars int) store.MessageContent {
	if capChars <= 0 {
		capChars = DefaultPerMessageCharCap
	}
	if !content.IsMultipart() {
		if len(content.Text) <= capChars {
			return content
		}
		if capChars < len(truncationMarker) {
			return store.MessageContent{Text: content.Text[:capChars]}
		}
		head := capChars - len(truncationMarker)
		return store.MessageContent{Text: content.Text[:head] + truncationMarker}
	}

	out := make([]store.ContentPart, len(content.Parts))
	copy(out, content.Parts)
	for i, p := range out {
		if p.Type != "text" {
			continue
		}
		if len(p.Text) > capChars {
			if capChars < len(truncationMarker) {
				p.Text = p.Text[:capChars]
			} else {
				p.Text = p.Text[:capChars-len(truncationMarker)] + truncationMarker
			}
			out[i] = p
		}
	}
	return store.MessageContent{Parts: out}
}

// TruncateHistory applies the per-message cap to every message, then walks
// from the newest backward accumulating messages until the next would
// exceed aggregateCap, returning the kept slice in original (oldest-first)
// order. At least one message — the newest — is always kept, even if it
// alone exceeds aggregateCap.
func TruncateHistory(messages []store.Message, perMessageCap, aggregateCap int) []store.Message {
	if perMessageCap <= 0 {
		perMessageCap = DefaultPerMessageCharCap
	}
	if aggregateCap <= 0 {
		aggregateCap = DefaultAggregateCharCap
	}
	if len(messages) == 0 {
		return messages
	}

	capped := make([]store.Message, len(messages))
	for i, m := range messages {
		m.Content = TruncateMessage(m.Content, perMessageCap)
		capped[i] = m
	}

	kept := make([]store.Message, 0, len(capped))
	total := 0
	for i := len(capped) - 1; i >= 0; i-- {
		size := capped[i].Content.Len()
		if len(kept) > 0 && total+size > aggregateCap {
			break
		}
		kept = append(kept, capped[i])
		total += size
	}

	// kept was built newest-first; reverse to oldest-first.
	for l, r := 0, len(kept)-1; l < r; l, r = l+1, r-1 {
		kept[l], kept[r] = kept[r], kept[l]
	}
	return kept
}
