package trace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/companionrt/internal/bus"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// SessionObserver writes each event as an agent_steps row and publishes it
// to the session's, stream's, and (when known) parent channel's rooms, so
// a connected UI sees the runtime's trace live.
type SessionObserver struct {
	Steps     store.StepStore
	Publisher bus.EventPublisher
	ChannelID string // optional parent room, e.g. a workspace-wide feed
	Log       *slog.Logger

	mu        sync.Mutex
	openSteps map[string]string // sessionID:toolName -> open step id, per in-flight call
}

func NewSessionObserver(steps store.StepStore, publisher bus.EventPublisher, channelID string, log *slog.Logger) *SessionObserver {
	if log == nil {
		log = slog.Default()
	}
	return &SessionObserver{Steps: steps, Publisher: publisher, ChannelID: channelID, Log: log, openSteps: make(map[string]string)}
}

func (o *SessionObserver) Handle(ev Event) {
	ctx := context.Background()

	switch ev.Kind {
	case KindThinking:
		if _, err := o.Steps.StartStep(ctx, ev.SessionID, "thinking", ev.Text); err != nil {
			o.Log.Error("session observer: start thinking step failed", "error", err, "session_id", ev.SessionID)
		}
	case KindToolStart:
		step, err := o.Steps.StartStep(ctx, ev.SessionID, "tool:"+ev.ToolName, ev.ToolInput)
		if err != nil {
			o.Log.Error("session observer: start tool step failed", "error", err, "session_id", ev.SessionID, "tool", ev.ToolName)
		} else {
			o.mu.Lock()
			o.openSteps[ev.SessionID+":"+ev.ToolName] = step.ID
			o.mu.Unlock()
		}
	case KindToolComplete:
		if stepID, ok := o.takeOpenStep(ev); ok {
			if err := o.Steps.CompleteStep(ctx, stepID, ev.ToolOutput, ev.Sources); err != nil {
				o.Log.Error("session observer: complete tool step failed", "error", err, "session_id", ev.SessionID)
			}
		}
	case KindToolError:
		if stepID, ok := o.takeOpenStep(ev); ok {
			if err := o.Steps.CompleteStep(ctx, stepID, "error: "+ev.ToolErr, nil); err != nil {
				o.Log.Error("session observer: complete failed tool step failed", "error", err, "session_id", ev.SessionID)
			}
		}
	case KindMessageSent, KindMessageEdited, KindResponseKept:
		content := ev.MessageID
		if ev.Kind == KindResponseKept {
			content = ev.KeepReason
		}
		if _, err := o.Steps.StartStep(ctx, ev.SessionID, string(ev.Kind), content); err != nil {
			o.Log.Error("session observer: record terminal step failed", "error", err, "session_id", ev.SessionID)
		}
	case KindSessionError:
		if _, err := o.Steps.StartStep(ctx, ev.SessionID, "session:error", ev.Err); err != nil {
			o.Log.Error("session observer: record error step failed", "error", err, "session_id", ev.SessionID)
		}
	}

	o.publish(ev)
}

func (o *SessionObserver) takeOpenStep(ev Event) (string, bool) {
	key := ev.SessionID + ":" + ev.ToolName
	o.mu.Lock()
	defer o.mu.Unlock()
	stepID, ok := o.openSteps[key]
	if ok {
		delete(o.openSteps, key)
	}
	return stepID, ok
}

func (o *SessionObserver) publish(ev Event) {
	if o.Publisher == nil {
		return
	}
	rooms := []string{"session:" + ev.SessionID, "stream:" + ev.StreamID}
	if o.ChannelID != "" {
		rooms = append(rooms, "channel:"+o.ChannelID)
	}
	for _, room := range rooms {
		o.Publisher.Publish(bus.Event{Room: room, Name: string(ev.Kind), Payload: ev})
	}
}
