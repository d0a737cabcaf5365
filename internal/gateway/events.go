package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleEvents implements GET /api/v1/events: a long-lived SSE feed of
// bus events. The optional topic query parameter narrows the feed to a
// topic prefix, for example topic=command or topic=session.created.
// The connection stays open until the client disconnects or the bus
// closes the subscription.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeUnauthorized(w)
		return
	}
	if s.cfg.Bus == nil {
		writeEnvelopeError(w, http.StatusNotFound, "NOT_FOUND", "event feed not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeEnvelopeError(w, http.StatusInternalServerError, "EXECUTION_ERROR", "streaming not supported")
		return
	}

	sub := s.cfg.Bus.Subscribe(r.URL.Query().Get("topic"))
	defer s.cfg.Bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				s.logger.Error("sse: marshal event", "topic", ev.Topic, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Topic, data); err != nil {
				s.logger.Debug("sse: write failed, client gone", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
