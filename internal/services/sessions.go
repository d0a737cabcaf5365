package services

import (
	"context"
	"time"

	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/session"
)

// SessionService exposes the session store through the command
// pipeline.
type SessionService struct {
	sessions *session.Store
}

// NewSessionService wires the session service to the store.
func NewSessionService(sessions *session.Store) *SessionService {
	return &SessionService{sessions: sessions}
}

func (s *SessionService) Name() string                   { return "sessions" }
func (s *SessionService) TargetType() command.TargetType { return command.TargetSession }

func (s *SessionService) Execute(ctx context.Context, cmd command.Command) (any, error) {
	switch cmd.Action {
	case command.ActionCreate:
		agentID, _ := stringParam(cmd.Parameters, "agentId")
		userID, _ := stringParam(cmd.Parameters, "userId")
		expiration := 0
		if v, ok := cmd.Parameters["expirationMinutes"].(float64); ok && v > 0 {
			expiration = int(v)
		}
		return s.sessions.Create(session.CreateOptions{
			AgentID:           agentID,
			UserID:            userID,
			ExpirationMinutes: expiration,
		}), nil

	case command.ActionRead:
		sess := s.sessions.Resolve(cmd.TargetID)
		if sess == nil {
			return nil, apperr.NotFound("session %q not found or expired", cmd.TargetID)
		}
		return sess, nil

	case command.ActionUpdate:
		if v, ok := cmd.Parameters["extendMinutes"].(float64); ok && v > 0 {
			extended := s.sessions.Extend(cmd.TargetID, int(v))
			if extended == nil {
				return nil, apperr.NotFound("session %q not found or not active", cmd.TargetID)
			}
			return extended, nil
		}
		var partial session.Partial
		if agentID, ok := stringParam(cmd.Parameters, "agentId"); ok {
			partial.AgentID = &agentID
		}
		if userID, ok := stringParam(cmd.Parameters, "userId"); ok {
			partial.UserID = &userID
		}
		if meta, ok := cmd.Parameters["context"].(map[string]any); ok {
			partial.Metadata = meta
		}
		updated := s.sessions.Update(cmd.TargetID, partial)
		if updated == nil {
			return nil, apperr.NotFound("session %q not found", cmd.TargetID)
		}
		return updated, nil

	case command.ActionDelete:
		if !s.sessions.Terminate(cmd.TargetID) {
			return nil, apperr.NotFound("session %q not found", cmd.TargetID)
		}
		return map[string]any{"terminated": cmd.TargetID}, nil

	case command.ActionStatus:
		sess := s.sessions.Resolve(cmd.TargetID)
		if sess == nil {
			return nil, apperr.NotFound("session %q not found or expired", cmd.TargetID)
		}
		return map[string]any{
			"id":               sess.ID,
			"status":           sess.Status,
			"remainingSeconds": int(time.Until(sess.ExpiresAt).Seconds()),
		}, nil

	default:
		return nil, apperr.Validation("action " + string(cmd.Action) + " not supported for sessions")
	}
}

func (s *SessionService) Tools() ([]registry.Tool, error) {
	return []registry.Tool{
		{Name: "session_create", Action: "create", Description: "Open a session"},
		{Name: "session_read", Action: "read", Description: "Read a live session"},
		{Name: "session_update", Action: "update", Description: "Update or extend a session"},
		{Name: "session_delete", Action: "delete", Description: "Terminate a session"},
	}, nil
}

func (s *SessionService) Resources() ([]registry.Resource, error) {
	return []registry.Resource{
		{URI: "taskdeck://sessions", Name: "sessions", Description: "Live sessions"},
	}, nil
}

func (s *SessionService) Status() registry.Health {
	return registry.Health{State: registry.Healthy}
}
