package services

import (
	"context"

	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/persistence"
	"github.com/basket/taskdeck/internal/registry"
)

// ItemService executes item-target commands against the SQLite store.
// For create and reorder the targetId names the containing list; for
// everything else it names the item.
type ItemService struct {
	store *persistence.Store
}

// NewItemService wires the item service to a store.
func NewItemService(store *persistence.Store) *ItemService {
	return &ItemService{store: store}
}

func (s *ItemService) Name() string                   { return "items" }
func (s *ItemService) TargetType() command.TargetType { return command.TargetItem }

func (s *ItemService) Execute(ctx context.Context, cmd command.Command) (any, error) {
	switch cmd.Action {
	case command.ActionCreate:
		content, err := requireString(cmd.Parameters, "content")
		if err != nil {
			return nil, err
		}
		listID, err := requireString(cmd.Parameters, "listId")
		if err != nil {
			return nil, err
		}
		priority, _ := stringParam(cmd.Parameters, "priority")
		return s.store.CreateItem(ctx, listID, content, priority)

	case command.ActionRead:
		if listID, ok := stringParam(cmd.Parameters, "listId"); ok {
			return s.store.Items(ctx, listID)
		}
		return s.store.GetItem(ctx, cmd.TargetID)

	case command.ActionUpdate:
		var patch persistence.ItemPatch
		if content, ok := stringParam(cmd.Parameters, "content"); ok {
			patch.Content = &content
		}
		if priority, ok := stringParam(cmd.Parameters, "priority"); ok {
			if priority != "low" && priority != "normal" && priority != "high" {
				return nil, apperr.Validation("bad parameter", apperr.Violation{Field: "parameters.priority", Message: "must be low, normal, or high"})
			}
			patch.Priority = &priority
		}
		if done, ok := boolParam(cmd.Parameters, "done"); ok {
			patch.Done = &done
		}
		return s.store.UpdateItem(ctx, cmd.TargetID, patch)

	case command.ActionMarkDone:
		return s.store.MarkDone(ctx, cmd.TargetID)

	case command.ActionReorder:
		order, err := stringSliceParam(cmd.Parameters, "order")
		if err != nil {
			return nil, err
		}
		if err := s.store.ReorderItems(ctx, cmd.TargetID, order); err != nil {
			return nil, err
		}
		return s.store.Items(ctx, cmd.TargetID)

	case command.ActionDelete:
		if err := s.store.DeleteItem(ctx, cmd.TargetID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": cmd.TargetID}, nil

	case command.ActionStatus:
		it, err := s.store.GetItem(ctx, cmd.TargetID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": it.ID, "done": it.Done, "priority": it.Priority}, nil

	default:
		return nil, apperr.Validation("action " + string(cmd.Action) + " not supported for items")
	}
}

func (s *ItemService) Tools() ([]registry.Tool, error) {
	return []registry.Tool{
		{Name: "item_create", Action: "create", Description: "Create an item in a list"},
		{Name: "item_read", Action: "read", Description: "Read one item or a list's items"},
		{Name: "item_update", Action: "update", Description: "Update item fields"},
		{Name: "item_mark_done", Action: "mark_done", Description: "Mark an item complete"},
		{Name: "item_reorder", Action: "reorder", Description: "Reorder a list's items"},
		{Name: "item_delete", Action: "delete", Description: "Delete an item"},
	}, nil
}

func (s *ItemService) Resources() ([]registry.Resource, error) {
	return []registry.Resource{
		{URI: "taskdeck://items", Name: "items", Description: "Items addressed per list via taskdeck://lists/<id>"},
	}, nil
}

func (s *ItemService) Status() registry.Health {
	if err := s.store.DB().Ping(); err != nil {
		return registry.Health{State: registry.Errored, Detail: err.Error()}
	}
	return registry.Health{State: registry.Healthy}
}
