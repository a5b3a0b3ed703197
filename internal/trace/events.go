// Package trace implements the Agent Runtime's Trace/Observer Bus: a
// strongly-typed event stream multiple observers can attach to. A failure
// in one observer never blocks another.
package trace

import "github.com/nextlevelbuilder/companionrt/internal/store"

type Kind string

const (
	KindSessionStart     Kind = "session:start"
	KindThinking         Kind = "thinking"
	KindToolStart        Kind = "tool:start"
	KindToolComplete     Kind = "tool:complete"
	KindToolError        Kind = "tool:error"
	KindMessageSent      Kind = "message:sent"
	KindMessageEdited    Kind = "message:edited"
	KindResponseKept     Kind = "response:kept"
	KindContextReceived  Kind = "context:received"
	KindReconsidering    Kind = "reconsidering"
	KindSessionEnd       Kind = "session:end"
	KindSessionError     Kind = "session:error"
)

// Event is one point in a session's runtime trace. Only the fields
// relevant to Kind are populated; the rest are left zero.
type Event struct {
	Kind      Kind
	SessionID string
	StreamID  string
	PersonaID string

	// thinking
	Text      string   // model's text output, when present
	PlanNames []string // tool names, when the model emitted tool calls only

	// tool:start / tool:complete / tool:error
	ToolName   string
	ToolInput  string
	ToolOutput string
	ToolErr    string
	ElapsedMS  int64
	Sources    []store.SourceItem

	// message:sent / message:edited
	MessageID string

	// response:kept
	KeepReason string

	// context:received / reconsidering
	NewMessageIDs []string
	Draft         string

	// session:end / session:error
	Err string
}

// Observer receives every event published on a Bus. Handle must not
// block; long-running work (DB writes, span export) should be
// synchronous but fast, since observers run sequentially per event to
// preserve ordering within one observer's own view of the session.
type Observer interface {
	Handle(ev Event)
}
