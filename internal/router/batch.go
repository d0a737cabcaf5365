package router

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/basket/taskdeck/internal/command"
)

// defaultMaxConcurrency bounds parallel batch fan-out when the caller
// does not set one.
const defaultMaxConcurrency = 5

// BatchOptions controls ExecuteBatch.
type BatchOptions struct {
	// StopOnError halts a sequential batch at the first failure. The
	// returned slice covers only the commands that ran. Ignored in
	// parallel mode.
	StopOnError bool `json:"stopOnError,omitempty"`
	// Parallel partitions the batch into chunks of MaxConcurrency and
	// runs each chunk concurrently. Output order follows input order.
	Parallel       bool `json:"parallel,omitempty"`
	MaxConcurrency int  `json:"maxConcurrency,omitempty"`
}

// ExecuteBatch runs a batch of commands. Sequential mode runs them one
// at a time, optionally stopping at the first failure. Parallel mode
// runs chunks of MaxConcurrency commands concurrently; chunks run one
// after another and responses keep the input order.
func (r *Router) ExecuteBatch(ctx context.Context, cmds []command.Command, execCtx command.Context, opts BatchOptions) []Response {
	if len(cmds) == 0 {
		return []Response{}
	}
	if r.metrics != nil {
		r.metrics.BatchSize.Record(ctx, int64(len(cmds)))
	}
	if opts.Parallel {
		return r.executeParallel(ctx, cmds, execCtx, opts)
	}

	responses := make([]Response, 0, len(cmds))
	for _, cmd := range cmds {
		resp := r.Execute(ctx, cmd, execCtx)
		responses = append(responses, resp)
		if opts.StopOnError && !resp.Success {
			break
		}
	}
	return responses
}

func (r *Router) executeParallel(ctx context.Context, cmds []command.Command, execCtx command.Context, opts BatchOptions) []Response {
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = r.maxConcurrency
	}

	responses := make([]Response, len(cmds))
	for start := 0; start < len(cmds); start += maxConcurrency {
		end := start + maxConcurrency
		if end > len(cmds) {
			end = len(cmds)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				responses[i] = r.Execute(ctx, cmds[i], execCtx)
				return nil
			})
		}
		// Execute never returns an error; Wait only joins the chunk.
		_ = g.Wait()
	}
	return responses
}
