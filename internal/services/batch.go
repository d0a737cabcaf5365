package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/router"
)

// Batcher runs a slice of commands through the full pipeline. The
// router satisfies this; the indirection keeps the service registrable
// without the registry depending on the router.
type Batcher interface {
	ExecuteBatch(ctx context.Context, cmds []command.Command, execCtx command.Context, opts router.BatchOptions) []router.Response
}

// BatchService makes batches addressable as commands: an
// execute:batch command carrying a commands array runs each inner
// command through the same validate/authorize/dispatch pipeline.
// Nested batches are rejected to keep recursion bounded.
type BatchService struct {
	batcher Batcher
	maxSize int

	executed atomic.Int64
	failed   atomic.Int64
}

// NewBatchService wires the batch service. maxSize caps the inner
// command count; zero means no cap.
func NewBatchService(batcher Batcher, maxSize int) *BatchService {
	return &BatchService{batcher: batcher, maxSize: maxSize}
}

func (s *BatchService) Name() string                   { return "batch" }
func (s *BatchService) TargetType() command.TargetType { return command.TargetBatch }

func (s *BatchService) Execute(ctx context.Context, cmd command.Command) (any, error) {
	switch cmd.Action {
	case command.ActionExecute:
		cmds, err := s.innerCommands(cmd.Parameters)
		if err != nil {
			return nil, err
		}
		opts := router.BatchOptions{}
		opts.StopOnError, _ = boolParam(cmd.Parameters, "stopOnError")
		opts.Parallel, _ = boolParam(cmd.Parameters, "parallel")
		if v, ok := cmd.Parameters["maxConcurrency"].(float64); ok && v > 0 {
			opts.MaxConcurrency = int(v)
		}
		execCtx := command.Context{
			AgentID:   cmd.AgentID,
			SessionID: cmd.SessionID,
		}
		responses := s.batcher.ExecuteBatch(ctx, cmds, execCtx, opts)
		failed := 0
		for _, resp := range responses {
			if !resp.Success {
				failed++
			}
		}
		s.executed.Add(int64(len(responses)))
		s.failed.Add(int64(failed))
		return map[string]any{
			"batchId":   cmd.TargetID,
			"responses": responses,
			"total":     len(responses),
			"failed":    failed,
		}, nil

	case command.ActionStatus:
		return map[string]any{
			"maxSize":          s.maxSize,
			"commandsExecuted": s.executed.Load(),
			"commandsFailed":   s.failed.Load(),
		}, nil

	default:
		return nil, apperr.Validation("unsupported batch action", apperr.Violation{Field: "action", Message: string(cmd.Action)})
	}
}

// innerCommands decodes parameters.commands through a JSON round trip
// so both typed and map-shaped payloads land in command.Command.
func (s *BatchService) innerCommands(params map[string]any) ([]command.Command, error) {
	raw, ok := params["commands"]
	if !ok {
		return nil, apperr.Validation("missing parameter", apperr.Violation{Field: "parameters.commands", Message: "required"})
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, apperr.Validation("bad parameter", apperr.Violation{Field: "parameters.commands", Message: "must be an array of commands"})
	}
	var cmds []command.Command
	if err := json.Unmarshal(buf, &cmds); err != nil {
		return nil, apperr.Validation("bad parameter", apperr.Violation{Field: "parameters.commands", Message: "must be an array of commands"})
	}
	if len(cmds) == 0 {
		return nil, apperr.Validation("empty batch", apperr.Violation{Field: "parameters.commands", Message: "at least one command required"})
	}
	if s.maxSize > 0 && len(cmds) > s.maxSize {
		return nil, apperr.Validation("batch too large", apperr.Violation{
			Field:   "parameters.commands",
			Message: fmt.Sprintf("batch of %d exceeds the limit of %d", len(cmds), s.maxSize),
		})
	}
	for i, inner := range cmds {
		if inner.TargetType == command.TargetBatch {
			return nil, apperr.Validation("nested batch", apperr.Violation{
				Field:   fmt.Sprintf("parameters.commands[%d]", i),
				Message: "batches cannot contain batch commands",
			})
		}
	}
	return cmds, nil
}

func (s *BatchService) Tools() ([]registry.Tool, error) {
	return []registry.Tool{
		{Name: "batch_execute", Action: "execute", Description: "Run a commands array through the pipeline"},
		{Name: "batch_status", Action: "status", Description: "Report batch limits and counters"},
	}, nil
}

func (s *BatchService) Resources() ([]registry.Resource, error) {
	return nil, nil
}

func (s *BatchService) Status() registry.Health {
	return registry.Health{State: registry.Healthy}
}
