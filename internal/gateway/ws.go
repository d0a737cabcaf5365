package gateway

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/router"
)

// wsRequest is one inbound websocket message. Type selects the
// pipeline entry point: "command", "batch", or "stream".
type wsRequest struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Command  command.Command     `json:"command"`
	Commands []command.Command   `json:"commands,omitempty"`
	Context  command.Context     `json:"context"`
	Options  router.BatchOptions `json:"options"`
}

type wsResponse struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Response  *router.Response  `json:"response,omitempty"`
	Responses []router.Response `json:"responses,omitempty"`
	Frame     *registry.Frame   `json:"frame,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// handleWS serves the bidirectional command channel. Each request is
// answered with a correlated response; stream requests produce one
// frame message per frame followed by a "stream_end" marker.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeUnauthorized(w)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	s.logger.Info("ws: client connected")
	defer func() {
		s.logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	for {
		var req wsRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		fillClientContext(&req.Context, r)
		if !s.allowRate(ctx, rateKey(req.Context, r)) {
			msg := wsResponse{ID: req.ID, Type: "error", Error: "rate limit exceeded"}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
			continue
		}

		switch req.Type {
		case "command":
			resp := s.cfg.Router.Execute(ctx, req.Command, req.Context)
			if err := wsjson.Write(ctx, conn, wsResponse{ID: req.ID, Type: "response", Response: &resp}); err != nil {
				return
			}
		case "batch":
			responses := s.cfg.Router.ExecuteBatch(ctx, req.Commands, req.Context, req.Options)
			if err := wsjson.Write(ctx, conn, wsResponse{ID: req.ID, Type: "responses", Responses: responses}); err != nil {
				return
			}
		case "stream":
			for frame := range s.cfg.Router.Stream(ctx, req.Command, req.Context) {
				f := frame
				if err := wsjson.Write(ctx, conn, wsResponse{ID: req.ID, Type: "frame", Frame: &f}); err != nil {
					return
				}
			}
			if err := wsjson.Write(ctx, conn, wsResponse{ID: req.ID, Type: "stream_end"}); err != nil {
				return
			}
		default:
			msg := wsResponse{ID: req.ID, Type: "error", Error: "unknown request type"}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}
