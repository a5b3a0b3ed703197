// Package dispatch implements the two outbox handlers sharing the
// Cursor-Locked Listener contract: CompanionDispatcher (auto-reply on
// every human message in companion-mode streams) and MentionDispatcher
// (fires on @persona mentions regardless of companion mode).
package dispatch

import "encoding/json"

// MessageCreatedPayload is the JSON body of an outbox row of kind
// "message_created", written by the integrator's message-ingestion path.
type MessageCreatedPayload struct {
	WorkspaceID     string `json:"workspaceId"`
	StreamID        string `json:"streamId"`
	MessageID       string `json:"messageId"`
	AuthorID        string `json:"authorId"`
	AuthorType      string `json:"authorType"` // "human", "persona", "system"
	MessageSequence int64  `json:"messageSequence"`
	ContentMarkdown string `json:"contentMarkdown"`
}

const MessageCreatedKind = "message_created"

func decodeMessageCreated(raw json.RawMessage) (MessageCreatedPayload, error) {
	var p MessageCreatedPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}
