package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mcpdock-go/internal/lifecycle"
)

const (
	sseRetryMillis = 5000
	sseHeartbeat   = 30 * time.Second
)

// handleEvents streams lifecycle events as server-sent events. Each event's
// ULID rides in the SSE id field so clients can order and deduplicate.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.logger.Warn("ResponseWriter does not support flushing, SSE delivery may lag")
	}

	// Subscribe before the handshake comment: a client that has seen the
	// handshake must not miss events published right after.
	bus := s.orch.Events()
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	if _, err := fmt.Fprintf(w, ": connected\nretry: %d\n\n", sseRetryMillis); err != nil {
		return
	}
	if canFlush {
		flusher.Flush()
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}

		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, canFlush, event); err != nil {
				s.logger.Debug("SSE subscriber went away", zap.Error(err))
				return
			}
		}
	}
}

func writeSSEEvent(w io.Writer, flusher http.Flusher, canFlush bool, event lifecycle.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data); err != nil {
		return err
	}
	if canFlush {
		flusher.Flush()
	}
	return nil
}
