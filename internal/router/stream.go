package router

import (
	"context"
	"iter"
	"time"

	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/shared"
)

// Stream runs the pipeline for one command and yields its frames
// incrementally: an initial progress frame, then whatever the service
// produces. Every failure, at any stage, becomes a terminal error
// frame; nothing is raised to the consumer. The sequence is finite and
// non-restartable, and the caller cancels simply by stopping
// iteration; there is no separate cancel signal.
func (r *Router) Stream(ctx context.Context, cmd command.Command, execCtx command.Context) iter.Seq[registry.Frame] {
	return func(yield func(registry.Frame) bool) {
		started := time.Now()
		correlationID := execCtx.CorrelationID
		if correlationID == "" {
			correlationID = shared.NewCorrelationID()
		}
		sctx := shared.WithCorrelationID(ctx, correlationID)

		r.log.Start(correlationID, cmd.String(), execCtx.AgentID, execCtx.SessionID)
		if r.metrics != nil {
			r.metrics.ActiveStreams.Add(sctx, 1)
			defer r.metrics.ActiveStreams.Add(sctx, -1)
		}

		emit := func(f registry.Frame) bool {
			if r.metrics != nil {
				r.metrics.StreamFrames.Add(sctx, 1)
			}
			if r.bus != nil {
				r.bus.Publish(bus.TopicCommandFrame, bus.FrameEvent{
					CorrelationID: correlationID,
					Command:       cmd.String(),
					FrameType:     string(f.Type),
					Data:          f.Data,
				})
			}
			return yield(f)
		}

		terminate := func(err error) {
			resp := r.fail(cmd, correlationID, execCtx, started, err)
			emit(registry.Frame{Type: registry.FrameError, Data: resp.Error})
		}

		if !emit(registry.ProgressFrame("accepted", map[string]any{"command": cmd.String()})) {
			return
		}

		validated, err := r.validator.Validate(cmd)
		if err != nil {
			terminate(err)
			return
		}
		agent, sess, aerr := r.resolve(validated.Command, execCtx)
		if aerr != nil {
			terminate(aerr)
			return
		}
		sctx = shared.WithAgentID(sctx, agent.ID)
		sctx = shared.WithSessionID(sctx, sess.ID)
		if err := r.engine.Authorize(validated.Command, agent, sess); err != nil {
			terminate(err)
			return
		}

		seq, err := r.registry.DispatchStream(sctx, validated.Command)
		if err != nil {
			terminate(err)
			return
		}

		var failed *registry.Frame
		for frame := range seq {
			if frame.Type == registry.FrameError {
				failed = &frame
			}
			if !emit(frame) {
				return
			}
			if failed != nil {
				// Error frames are terminal.
				break
			}
		}

		elapsed := time.Since(started)
		if failed != nil {
			code := frameErrorCode(failed.Data)
			r.log.Error(correlationID, cmd.String(), agent.ID, sess.ID, elapsed, code, "stream terminated with error frame")
			r.observe(sctx, cmd, elapsed, code)
			return
		}
		r.directory.RecordActivity(agent.ID, cmd.String())
		r.log.Success(correlationID, cmd.String(), agent.ID, sess.ID, elapsed)
		r.observe(sctx, cmd, elapsed, "")
	}
}

// frameErrorCode recovers the error code carried by a terminal error
// frame. Service frames built with registry.ErrorFrame carry a map
// payload; frames synthesized by the router carry a *ResponseError.
func frameErrorCode(data any) string {
	switch v := data.(type) {
	case *ResponseError:
		if v != nil && v.Code != "" {
			return v.Code
		}
	case map[string]any:
		if code, ok := v["code"].(string); ok && code != "" {
			return code
		}
	}
	return string(apperr.CodeExecution)
}
