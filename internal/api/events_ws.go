package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/axtion-io/TestBoost-sub002/internal/domain"
	"github.com/axtion-io/TestBoost-sub002/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// eventPollInterval is how often the stream tails the event log for a
// connected client.
const eventPollInterval = time.Second

// EventStreamHandler pushes a session's audit events over a WebSocket,
// a live complement to the polling endpoint.
type EventStreamHandler struct {
	repo           store.Repository
	allowedOrigins []string
}

// NewEventStreamHandler creates a WebSocket event stream handler.
func NewEventStreamHandler(repo store.Repository, allowedOrigins []string) *EventStreamHandler {
	return &EventStreamHandler{repo: repo, allowedOrigins: allowedOrigins}
}

// ServeHTTP upgrades the connection and streams events oldest-first
// from the requested starting point, then tails new ones until the
// client disconnects.
func (h *EventStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid since timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	opts := &websocket.AcceptOptions{}
	if len(h.allowedOrigins) == 1 && h.allowedOrigins[0] == "*" {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.allowedOrigins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Debug("WebSocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	slog.Info("Event stream connected", "session_id", sessionID, "ip", r.RemoteAddr)

	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		cursor, err := h.push(ctx, conn, sessionID, since)
		if err != nil {
			var closeErr websocket.CloseError
			if ctx.Err() == nil && !errors.As(err, &closeErr) {
				slog.Debug("Event stream write failed", "session_id", sessionID, "error", err)
			}
			return
		}
		since = cursor

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// push sends all events newer than since, oldest first, and returns
// the new cursor.
func (h *EventStreamHandler) push(ctx context.Context, conn *websocket.Conn, sessionID string, since time.Time) (time.Time, error) {
	events, err := h.repo.QueryEvents(ctx, store.EventFilter{
		SessionID: sessionID,
		Since:     since,
	})
	if err != nil {
		return since, err
	}

	// QueryEvents returns newest first; replay in log order.
	for i := len(events) - 1; i >= 0; i-- {
		if err := writeEvent(ctx, conn, events[i]); err != nil {
			return since, err
		}
	}
	if len(events) > 0 {
		since = events[0].CreatedAt
	}
	return since, nil
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event *domain.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}
