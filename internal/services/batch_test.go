package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/router"
	"github.com/basket/taskdeck/internal/services"
)

type fakeBatcher struct {
	gotCmds []command.Command
	gotOpts router.BatchOptions
	execCtx command.Context
}

func (f *fakeBatcher) ExecuteBatch(ctx context.Context, cmds []command.Command, execCtx command.Context, opts router.BatchOptions) []router.Response {
	f.gotCmds = cmds
	f.gotOpts = opts
	f.execCtx = execCtx
	out := make([]router.Response, len(cmds))
	for i := range cmds {
		out[i] = router.Response{Success: i != 1 || len(cmds) < 2}
	}
	return out
}

func TestBatchService_ExecuteDelegates(t *testing.T) {
	batcher := &fakeBatcher{}
	svc := services.NewBatchService(batcher, 10)

	c := cmd(command.ActionExecute, command.TargetBatch, "nightly", map[string]any{
		"commands": []any{
			map[string]any{"action": "read", "targetType": "list", "targetId": "inbox"},
			map[string]any{"action": "read", "targetType": "item", "targetId": "task_1"},
		},
		"parallel":       true,
		"maxConcurrency": float64(2),
	})
	c.AgentID = "agent_writer"

	result, err := svc.Execute(context.Background(), c)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(batcher.gotCmds) != 2 {
		t.Fatalf("delegated %d commands, want 2", len(batcher.gotCmds))
	}
	if batcher.gotCmds[0].TargetID != "inbox" || batcher.gotCmds[1].TargetType != command.TargetItem {
		t.Fatalf("inner commands not decoded: %+v", batcher.gotCmds)
	}
	if !batcher.gotOpts.Parallel || batcher.gotOpts.MaxConcurrency != 2 {
		t.Fatalf("options not threaded: %+v", batcher.gotOpts)
	}
	if batcher.execCtx.AgentID != "agent_writer" {
		t.Fatalf("agent id not carried into execution context: %+v", batcher.execCtx)
	}
	payload := result.(map[string]any)
	if payload["total"].(int) != 2 || payload["failed"].(int) != 1 {
		t.Fatalf("unexpected summary: %+v", payload)
	}
}

func TestBatchService_RejectsOversizeAndNested(t *testing.T) {
	svc := services.NewBatchService(&fakeBatcher{}, 1)

	over := cmd(command.ActionExecute, command.TargetBatch, "big", map[string]any{
		"commands": []any{
			map[string]any{"action": "read", "targetType": "list", "targetId": "a"},
			map[string]any{"action": "read", "targetType": "list", "targetId": "b"},
		},
	})
	if _, err := svc.Execute(context.Background(), over); err == nil {
		t.Fatal("oversize batch accepted")
	}

	nested := cmd(command.ActionExecute, command.TargetBatch, "outer", map[string]any{
		"commands": []any{
			map[string]any{"action": "execute", "targetType": "batch", "targetId": "inner"},
		},
	})
	_, err := svc.Execute(context.Background(), nested)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeValidation {
		t.Fatalf("nested batch: got %v, want validation error", err)
	}
}

func TestBatchService_Status(t *testing.T) {
	svc := services.NewBatchService(&fakeBatcher{}, 50)

	run := cmd(command.ActionExecute, command.TargetBatch, "b1", map[string]any{
		"commands": []any{
			map[string]any{"action": "read", "targetType": "list", "targetId": "a"},
		},
	})
	if _, err := svc.Execute(context.Background(), run); err != nil {
		t.Fatalf("execute: %v", err)
	}

	result, err := svc.Execute(context.Background(), cmd(command.ActionStatus, command.TargetBatch, "b1", nil))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	status := result.(map[string]any)
	if status["maxSize"].(int) != 50 || status["commandsExecuted"].(int64) != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
