package services

import (
	"context"

	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/persistence"
	"github.com/basket/taskdeck/internal/registry"
)

// ListService executes list-target commands against the SQLite store.
type ListService struct {
	store *persistence.Store
}

// NewListService wires the list service to a store.
func NewListService(store *persistence.Store) *ListService {
	return &ListService{store: store}
}

func (s *ListService) Name() string                   { return "lists" }
func (s *ListService) TargetType() command.TargetType { return command.TargetList }

func (s *ListService) Execute(ctx context.Context, cmd command.Command) (any, error) {
	switch cmd.Action {
	case command.ActionCreate:
		title, err := requireString(cmd.Parameters, "title")
		if err != nil {
			return nil, err
		}
		description, _ := stringParam(cmd.Parameters, "description")
		return s.store.CreateList(ctx, cmd.TargetID, title, description)

	case command.ActionRead:
		if cmd.TargetID == "all" {
			return s.store.Lists(ctx)
		}
		return s.store.GetList(ctx, cmd.TargetID)

	case command.ActionUpdate:
		var patch persistence.ListPatch
		if title, ok := stringParam(cmd.Parameters, "title"); ok {
			patch.Title = &title
		}
		if description, ok := stringParam(cmd.Parameters, "description"); ok {
			patch.Description = &description
		}
		if status, ok := stringParam(cmd.Parameters, "status"); ok {
			if status != "active" && status != "archived" {
				return nil, apperr.Validation("bad parameter", apperr.Violation{Field: "parameters.status", Message: "must be active or archived"})
			}
			patch.Status = &status
		}
		return s.store.UpdateList(ctx, cmd.TargetID, patch)

	case command.ActionRename:
		title, err := requireString(cmd.Parameters, "title")
		if err != nil {
			return nil, err
		}
		return s.store.UpdateList(ctx, cmd.TargetID, persistence.ListPatch{Title: &title})

	case command.ActionReorder:
		order, err := stringSliceParam(cmd.Parameters, "order")
		if err != nil {
			return nil, err
		}
		if err := s.store.ReorderLists(ctx, order); err != nil {
			return nil, err
		}
		return s.store.Lists(ctx)

	case command.ActionDelete:
		if err := s.store.DeleteList(ctx, cmd.TargetID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": cmd.TargetID}, nil

	case command.ActionStatus:
		l, err := s.store.GetList(ctx, cmd.TargetID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": l.ID, "status": l.Status, "itemCount": l.ItemCount}, nil

	default:
		return nil, apperr.Validation("action " + string(cmd.Action) + " not supported for lists")
	}
}

func (s *ListService) Tools() ([]registry.Tool, error) {
	return []registry.Tool{
		{Name: "list_create", Action: "create", Description: "Create a task list"},
		{Name: "list_read", Action: "read", Description: "Read one list or all lists"},
		{Name: "list_update", Action: "update", Description: "Update list fields"},
		{Name: "list_rename", Action: "rename", Description: "Rename a list"},
		{Name: "list_reorder", Action: "reorder", Description: "Reorder lists"},
		{Name: "list_delete", Action: "delete", Description: "Delete a list and its items"},
	}, nil
}

func (s *ListService) Resources() ([]registry.Resource, error) {
	lists, err := s.store.Lists(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]registry.Resource, 0, len(lists))
	for _, l := range lists {
		out = append(out, registry.Resource{URI: "taskdeck://lists/" + l.ID, Name: l.Title})
	}
	return out, nil
}

func (s *ListService) Status() registry.Health {
	if err := s.store.DB().Ping(); err != nil {
		return registry.Health{State: registry.Errored, Detail: err.Error()}
	}
	return registry.Health{State: registry.Healthy}
}
