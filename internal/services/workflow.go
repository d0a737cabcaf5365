package services

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/persistence"
	"github.com/basket/taskdeck/internal/registry"
)

// workflowRun journals one execution so rollback can revert it.
type workflowRun struct {
	Workflow   string    `json:"workflow"`
	ListID     string    `json:"listId"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
	// markedDone holds item ids flipped by complete_list.
	markedDone []string
	// purged holds items removed by purge_done, kept for restore.
	purged []persistence.Item
}

// WorkflowService runs multi-step operations over the task store. Two
// workflows are built in: complete_list marks every open item in a
// list done, purge_done deletes a list's completed items. The last run
// of each workflow is journaled and can be rolled back.
type WorkflowService struct {
	store *persistence.Store

	mu       sync.Mutex
	lastRun  map[string]*workflowRun
	runCount map[string]int
}

// NewWorkflowService wires the workflow service to a store.
func NewWorkflowService(store *persistence.Store) *WorkflowService {
	return &WorkflowService{
		store:    store,
		lastRun:  make(map[string]*workflowRun),
		runCount: make(map[string]int),
	}
}

func (s *WorkflowService) Name() string                   { return "workflows" }
func (s *WorkflowService) TargetType() command.TargetType { return command.TargetWorkflow }

var workflowDefs = map[string][]string{
	"complete_list": {"load items", "mark open items done", "summarize"},
	"purge_done":    {"load items", "delete completed items", "summarize"},
}

func (s *WorkflowService) Execute(ctx context.Context, cmd command.Command) (any, error) {
	switch cmd.Action {
	case command.ActionExecute:
		return s.run(ctx, cmd)

	case command.ActionPlan:
		steps, ok := workflowDefs[cmd.TargetID]
		if !ok {
			return nil, apperr.NotFound("workflow %q not found", cmd.TargetID)
		}
		return map[string]any{"workflow": cmd.TargetID, "steps": steps}, nil

	case command.ActionRollback:
		return s.rollback(ctx, cmd.TargetID)

	case command.ActionRead, command.ActionStatus, command.ActionMonitor,
		command.ActionDebug, command.ActionTest, command.ActionTrain, command.ActionOptimize:
		return s.report(cmd.TargetID)

	default:
		return nil, apperr.Validation("action " + string(cmd.Action) + " not supported for workflows")
	}
}

// ExecuteStream runs a workflow emitting one progress frame per step
// and a terminal result frame. Errors become a terminal error frame.
// The caller cancels by ceasing to pull.
func (s *WorkflowService) ExecuteStream(ctx context.Context, cmd command.Command) iter.Seq[registry.Frame] {
	return func(yield func(registry.Frame) bool) {
		if cmd.Action != command.ActionExecute {
			result, err := s.Execute(ctx, cmd)
			if err != nil {
				yield(registry.ErrorFrame(err))
				return
			}
			yield(registry.Frame{Type: registry.FrameResult, Data: result})
			return
		}

		steps, ok := workflowDefs[cmd.TargetID]
		if !ok {
			yield(registry.ErrorFrame(apperr.NotFound("workflow %q not found", cmd.TargetID)))
			return
		}
		for i, step := range steps {
			if !yield(registry.ProgressFrame(step, map[string]any{"step": i + 1, "of": len(steps)})) {
				return
			}
		}
		result, err := s.run(ctx, cmd)
		if err != nil {
			yield(registry.ErrorFrame(err))
			return
		}
		yield(registry.Frame{Type: registry.FrameResult, Data: result})
	}
}

func (s *WorkflowService) run(ctx context.Context, cmd command.Command) (any, error) {
	listID, err := requireString(cmd.Parameters, "listId")
	if err != nil {
		return nil, err
	}
	started := time.Now()
	run := &workflowRun{Workflow: cmd.TargetID, ListID: listID, StartedAt: started.UTC()}

	items, err := s.store.Items(ctx, listID)
	if err != nil {
		return nil, err
	}

	var touched int
	switch cmd.TargetID {
	case "complete_list":
		for _, it := range items {
			if it.Done {
				continue
			}
			if _, err := s.store.MarkDone(ctx, it.ID); err != nil {
				return nil, err
			}
			run.markedDone = append(run.markedDone, it.ID)
			touched++
		}
	case "purge_done":
		for _, it := range items {
			if !it.Done {
				continue
			}
			if err := s.store.DeleteItem(ctx, it.ID); err != nil {
				return nil, err
			}
			run.purged = append(run.purged, it)
			touched++
		}
	default:
		return nil, apperr.NotFound("workflow %q not found", cmd.TargetID)
	}

	run.DurationMS = time.Since(started).Milliseconds()
	s.mu.Lock()
	s.lastRun[cmd.TargetID] = run
	s.runCount[cmd.TargetID]++
	s.mu.Unlock()

	return map[string]any{
		"workflow":   cmd.TargetID,
		"listId":     listID,
		"touched":    touched,
		"durationMs": run.DurationMS,
	}, nil
}

func (s *WorkflowService) rollback(ctx context.Context, workflow string) (any, error) {
	s.mu.Lock()
	run := s.lastRun[workflow]
	delete(s.lastRun, workflow)
	s.mu.Unlock()
	if run == nil {
		return nil, apperr.NotFound("no completed run of workflow %q to roll back", workflow)
	}

	var reverted int
	for _, id := range run.markedDone {
		undone := false
		if _, err := s.store.UpdateItem(ctx, id, persistence.ItemPatch{Done: &undone}); err != nil {
			return nil, fmt.Errorf("revert item %s: %w", id, err)
		}
		reverted++
	}
	for _, it := range run.purged {
		restored, err := s.store.CreateItem(ctx, it.ListID, it.Content, it.Priority)
		if err != nil {
			return nil, fmt.Errorf("restore item %s: %w", it.ID, err)
		}
		if it.Done {
			if _, err := s.store.MarkDone(ctx, restored.ID); err != nil {
				return nil, fmt.Errorf("restore done state for %s: %w", restored.ID, err)
			}
		}
		reverted++
	}
	return map[string]any{"workflow": workflow, "reverted": reverted}, nil
}

func (s *WorkflowService) report(workflow string) (any, error) {
	steps, ok := workflowDefs[workflow]
	if !ok && workflow != "all" {
		return nil, apperr.NotFound("workflow %q not found", workflow)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if workflow == "all" {
		out := make(map[string]any, len(workflowDefs))
		for name, st := range workflowDefs {
			out[name] = map[string]any{"steps": st, "runs": s.runCount[name]}
		}
		return out, nil
	}
	report := map[string]any{"workflow": workflow, "steps": steps, "runs": s.runCount[workflow]}
	if run := s.lastRun[workflow]; run != nil {
		report["lastRun"] = map[string]any{
			"listId":     run.ListID,
			"startedAt":  run.StartedAt,
			"durationMs": run.DurationMS,
		}
	}
	return report, nil
}

func (s *WorkflowService) Tools() ([]registry.Tool, error) {
	return []registry.Tool{
		{Name: "workflow_execute", Action: "execute", Description: "Run a workflow against a list"},
		{Name: "workflow_plan", Action: "plan", Description: "Preview a workflow's steps"},
		{Name: "workflow_rollback", Action: "rollback", Description: "Revert the last run of a workflow"},
	}, nil
}

func (s *WorkflowService) Resources() ([]registry.Resource, error) {
	out := make([]registry.Resource, 0, len(workflowDefs))
	for name := range workflowDefs {
		out = append(out, registry.Resource{URI: "taskdeck://workflows/" + name, Name: name})
	}
	return out, nil
}

func (s *WorkflowService) Status() registry.Health {
	if err := s.store.DB().Ping(); err != nil {
		return registry.Health{State: registry.Errored, Detail: err.Error()}
	}
	return registry.Health{State: registry.Healthy}
}
