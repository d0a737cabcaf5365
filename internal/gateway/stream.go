package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleStream implements POST /api/v1/stream: the command executes
// through the streaming path and every frame is forwarded as one SSE
// event. The connection closes after the terminal frame or when the
// client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeUnauthorized(w)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelopeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	fillClientContext(&req.Context, r)
	if !s.allowRate(r.Context(), rateKey(req.Context, r)) {
		s.writeRateLimited(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeEnvelopeError(w, http.StatusInternalServerError, "EXECUTION_ERROR", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	for frame := range s.cfg.Router.Stream(ctx, req.Command, req.Context) {
		data, err := json.Marshal(frame.Data)
		if err != nil {
			s.logger.Error("sse: marshal frame", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, data); err != nil {
			s.logger.Debug("sse: write failed, client gone", "error", err)
			return
		}
		flusher.Flush()
		if ctx.Err() != nil {
			return
		}
	}
}
