package services

import (
	"context"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/registry"
)

// AgentService exposes the agent directory through the command
// pipeline.
type AgentService struct {
	directory *agents.Directory
}

// NewAgentService wires the agent service to the directory.
func NewAgentService(directory *agents.Directory) *AgentService {
	return &AgentService{directory: directory}
}

func (s *AgentService) Name() string                   { return "agents" }
func (s *AgentService) TargetType() command.TargetType { return command.TargetAgent }

func (s *AgentService) Execute(ctx context.Context, cmd command.Command) (any, error) {
	switch cmd.Action {
	case command.ActionCreate:
		name, err := requireString(cmd.Parameters, "name")
		if err != nil {
			return nil, err
		}
		role, _ := stringParam(cmd.Parameters, "role")
		permissions, _ := stringSliceParam(cmd.Parameters, "permissions")
		capabilities, _ := stringSliceParam(cmd.Parameters, "capabilities")
		return s.directory.Create(agents.Spec{
			Name:         name,
			Role:         role,
			Permissions:  permissions,
			Capabilities: capabilities,
		}), nil

	case command.ActionRead:
		a := s.directory.Resolve(cmd.TargetID)
		if a == nil {
			return nil, apperr.NotFound("agent %q not found", cmd.TargetID)
		}
		return a, nil

	case command.ActionUpdate:
		var partial agents.Partial
		if name, ok := stringParam(cmd.Parameters, "name"); ok {
			partial.Name = &name
		}
		if role, ok := stringParam(cmd.Parameters, "role"); ok {
			partial.Role = &role
		}
		if status, ok := stringParam(cmd.Parameters, "status"); ok {
			st := agents.Status(status)
			if st != agents.StatusActive && st != agents.StatusInactive && st != agents.StatusSuspended {
				return nil, apperr.Validation("bad parameter", apperr.Violation{Field: "parameters.status", Message: "must be active, inactive, or suspended"})
			}
			partial.Status = &st
		}
		if perms, err := stringSliceParam(cmd.Parameters, "permissions"); err == nil {
			partial.Permissions = perms
		}
		if caps, err := stringSliceParam(cmd.Parameters, "capabilities"); err == nil {
			partial.Capabilities = caps
		}
		updated := s.directory.Update(cmd.TargetID, partial)
		if updated == nil {
			return nil, apperr.NotFound("agent %q not found", cmd.TargetID)
		}
		return updated, nil

	case command.ActionDelete:
		if !s.directory.Delete(cmd.TargetID) {
			return nil, apperr.NotFound("agent %q not found or not deletable", cmd.TargetID)
		}
		return map[string]any{"deleted": cmd.TargetID}, nil

	case command.ActionExecute:
		// Record a delegated activity against the agent's history.
		activity, err := requireString(cmd.Parameters, "activity")
		if err != nil {
			return nil, err
		}
		if s.directory.Resolve(cmd.TargetID) == nil {
			return nil, apperr.NotFound("agent %q not found", cmd.TargetID)
		}
		s.directory.RecordActivity(cmd.TargetID, activity)
		return map[string]any{"recorded": activity}, nil

	case command.ActionStatus:
		a := s.directory.Resolve(cmd.TargetID)
		if a == nil {
			return nil, apperr.NotFound("agent %q not found", cmd.TargetID)
		}
		return map[string]any{"id": a.ID, "status": a.Status, "lastActivity": a.LastActivity}, nil

	default:
		return nil, apperr.Validation("action " + string(cmd.Action) + " not supported for agents")
	}
}

func (s *AgentService) Tools() ([]registry.Tool, error) {
	return []registry.Tool{
		{Name: "agent_create", Action: "create", Description: "Register an agent"},
		{Name: "agent_read", Action: "read", Description: "Read an agent record"},
		{Name: "agent_update", Action: "update", Description: "Update an agent"},
		{Name: "agent_delete", Action: "delete", Description: "Remove an agent"},
	}, nil
}

func (s *AgentService) Resources() ([]registry.Resource, error) {
	list := s.directory.List(agents.Filter{})
	out := make([]registry.Resource, 0, len(list))
	for _, a := range list {
		out = append(out, registry.Resource{URI: "taskdeck://agents/" + a.ID, Name: a.Name})
	}
	return out, nil
}

func (s *AgentService) Status() registry.Health {
	return registry.Health{State: registry.Healthy}
}
