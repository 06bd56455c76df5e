package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"deepsearch/internal/logging"
	"deepsearch/internal/service"
)

// handleRunStream runs a research session and streams lifecycle events as
// server-sent events. The session ID doubles as the connection ID and is
// exposed in X-Connection-ID so the client can hit the cancel endpoint.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := service.NewSessionID()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Connection-ID", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.monitor.Register(sessionID, req.Query, r.RemoteAddr, r.UserAgent())

	emit := func(e service.Event) error {
		if err := writeSSE(w, e); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	disconnected := func() bool {
		return r.Context().Err() != nil
	}

	logging.Stream("session %s streaming for query %.60q", sessionID, req.Query)
	s.svc.RunStream(r.Context(), sessionID, req, disconnected, emit)
}

// writeSSE frames one event as `event: <type>\ndata: <json>\n\n`.
func writeSSE(w http.ResponseWriter, e service.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
