package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tether/internal/model"
	"github.com/seantiz/tether/internal/store"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the operation exists.
	op, err := s.store.GetOperation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// If already terminal, report the final status and close immediately.
	if model.TerminalStatus(op.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "status", op.Status)
		_ = writeSSEEvent(w, "done", "stream complete")
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe to the status stream. This is safe even if the operation
	// finished between the status check above and this call — Subscribe on a
	// closed topic returns a closed channel, so the loop exits immediately.
	ch, unsub := s.dispatcher.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	var lastSent string
	for {
		select {
		case status, ok := <-ch:
			if !ok {
				// Operation finished. The topic may have closed before this
				// subscriber saw the terminal status, so read it back from
				// the store before the explicit done event.
				if final, err := s.store.GetOperation(r.Context(), id); err == nil &&
					model.TerminalStatus(final.Status) && final.Status != lastSent {
					_ = writeSSEEvent(w, "status", final.Status)
				}
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEEvent(w, "status", status); err != nil {
				return // Write failed (e.g. client gone).
			}
			lastSent = status
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// historyEntry is a single status transition in the history response.
type historyEntry struct {
	Seq       int    `json:"seq"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// historyResponse is the JSON response for GET /v1/operations/:id/history.
type historyResponse struct {
	OperationID string         `json:"operation_id"`
	Transitions []historyEntry `json:"transitions"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the operation exists.
	_, err := s.store.GetOperation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation for history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	transitions, err := s.store.GetTransitions(r.Context(), id)
	if err != nil {
		s.logger.Error("get transitions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get transitions")
		return
	}

	entries := make([]historyEntry, len(transitions))
	for i, tr := range transitions {
		entries[i] = historyEntry{
			Seq:       tr.Seq,
			From:      tr.From,
			To:        tr.To,
			Detail:    tr.Detail,
			CreatedAt: tr.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, historyResponse{
		OperationID: id,
		Transitions: entries,
	})
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
// Multi-line data is split so that each segment gets its own "data:" prefix,
// per the SSE spec.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	for _, seg := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}
