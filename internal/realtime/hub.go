// Package realtime exposes internal/bus rooms to browser clients over
// WebSocket, so a dashboard can watch a session's trace events live
// instead of polling the event log.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/companionrt/internal/bus"
)

const (
	writeTimeout  = 5 * time.Second
	clientSendBuf = 64
)

// Hub upgrades HTTP connections to WebSocket and bridges each one to a
// bus.Publisher room for the lifetime of the connection.
type Hub struct {
	publisher *bus.Publisher
	log       *slog.Logger
}

func NewHub(publisher *bus.Publisher, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{publisher: publisher, log: log}
}

// ServeWS upgrades the request and streams every event published to
// roomFor(r) as a JSON text frame, until the client disconnects or the
// request context is cancelled. roomFor typically reads a path value or
// query parameter, e.g. "session:"+r.PathValue("sessionID").
func (h *Hub) ServeWS(roomFor func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := roomFor(r)
		if room == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.log.Error("realtime: ws accept failed", "room", room, "error", err)
			return
		}

		ctx := r.Context()
		subID := uuid.NewString()
		send := make(chan bus.Event, clientSendBuf)

		h.publisher.Subscribe(room, subID, func(ev bus.Event) {
			select {
			case send <- ev:
			default:
				h.log.Warn("realtime: slow client, dropping event", "room", room, "event", ev.Name)
			}
		})
		defer h.publisher.Unsubscribe(room, subID)

		// This connection is push-only: CloseRead spins a background read
		// loop that handles pings/close frames and cancels ctx on hangup.
		ctx = conn.CloseRead(ctx)

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case ev := <-send:
				if err := writeEvent(ctx, conn, ev); err != nil {
					h.log.Debug("realtime: write failed, closing", "room", room, "error", err)
					conn.Close(websocket.StatusInternalError, "write failed")
					return
				}
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev bus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
