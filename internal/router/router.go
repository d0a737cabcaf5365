// Package router orchestrates the command pipeline: validate, resolve
// session and agent, authorize, dispatch, log. Execute, ExecuteBatch,
// and Stream never return a Go error to the caller; every failure
// becomes a structured failure envelope (or a terminal error frame).
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/audit"
	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/otel"
	"github.com/basket/taskdeck/internal/policy"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/session"
	"github.com/basket/taskdeck/internal/shared"
)

// ResponseError is the sanitized error payload of a failure envelope.
type ResponseError struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Details []apperr.Violation `json:"details,omitempty"`
	Stack   string             `json:"stack,omitempty"`
}

// Metadata tags every response.
type Metadata struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Operation     string    `json:"operation,omitempty"`
}

// Response is the envelope returned for every command, success or not.
type Response struct {
	Success  bool           `json:"success"`
	Command  string         `json:"command"`
	Result   any            `json:"result,omitempty"`
	Error    *ResponseError `json:"error,omitempty"`
	Metadata Metadata       `json:"metadata"`
}

// Options wires a Router. Validator, Sessions, Directory, Engine,
// Registry, and Log are required; the rest are optional.
type Options struct {
	Validator *command.Validator
	Sessions  *session.Store
	Directory *agents.Directory
	Engine    *policy.Engine
	Registry  *registry.Registry
	Log       *audit.CommandLog
	Bus       *bus.Bus
	Metrics   *otel.Metrics
	Logger    *slog.Logger

	// AllowAnonymous runs commands from unresolved agent ids as the
	// seeded read-only anonymous agent instead of denying them.
	AllowAnonymous bool
	// Production suppresses stack traces in failure envelopes.
	Production bool
	// MaxConcurrency is the parallel batch chunk size applied when a
	// batch request leaves it unset. 0 means 5.
	MaxConcurrency int
}

// Router is the command pipeline orchestrator.
type Router struct {
	validator      *command.Validator
	sessions       *session.Store
	directory      *agents.Directory
	engine         *policy.Engine
	registry       *registry.Registry
	log            *audit.CommandLog
	bus            *bus.Bus
	metrics        *otel.Metrics
	logger         *slog.Logger
	allowAnonymous bool
	production     bool
	maxConcurrency int
}

// New builds a router from its collaborators.
func New(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Router{
		validator:      opts.Validator,
		sessions:       opts.Sessions,
		directory:      opts.Directory,
		engine:         opts.Engine,
		registry:       opts.Registry,
		log:            opts.Log,
		bus:            opts.Bus,
		metrics:        opts.Metrics,
		logger:         logger,
		allowAnonymous: opts.AllowAnonymous,
		production:     opts.Production,
		maxConcurrency: maxConcurrency,
	}
}

// Execute runs the full pipeline for one command. The returned
// envelope always carries the command's text form and the correlation
// id (caller-supplied or generated).
func (r *Router) Execute(ctx context.Context, cmd command.Command, execCtx command.Context) Response {
	started := time.Now()
	correlationID := execCtx.CorrelationID
	if correlationID == "" {
		correlationID = shared.NewCorrelationID()
	}
	ctx = shared.WithCorrelationID(ctx, correlationID)

	r.log.Start(correlationID, cmd.String(), execCtx.AgentID, execCtx.SessionID)

	validated, err := r.validator.Validate(cmd)
	if err != nil {
		return r.fail(cmd, correlationID, execCtx, started, err)
	}

	agent, sess, aerr := r.resolve(validated.Command, execCtx)
	if aerr != nil {
		return r.fail(cmd, correlationID, execCtx, started, aerr)
	}
	ctx = shared.WithAgentID(ctx, agent.ID)
	ctx = shared.WithSessionID(ctx, sess.ID)

	if err := r.engine.Authorize(validated.Command, agent, sess); err != nil {
		return r.fail(cmd, correlationID, execCtx, started, err)
	}

	result, err := r.registry.Dispatch(ctx, validated.Command)
	if err != nil {
		resp := r.fail(cmd, correlationID, execCtx, started, err)
		resp.Metadata.Operation = string(cmd.Action)
		return resp
	}

	elapsed := time.Since(started)
	r.directory.RecordActivity(agent.ID, cmd.String())
	r.log.Success(correlationID, cmd.String(), agent.ID, sess.ID, elapsed)
	r.logger.Info("command_success",
		"correlation_id", correlationID,
		"command", cmd.String(),
		"agent_id", agent.ID,
		"session_id", sess.ID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	r.observe(ctx, cmd, elapsed, "")

	return Response{
		Success: true,
		Command: cmd.String(),
		Result:  result,
		Metadata: Metadata{
			Timestamp:     time.Now().UTC(),
			CorrelationID: correlationID,
			Operation:     string(cmd.Action),
		},
	}
}

// resolve applies the session and agent resolution policy. A live
// session named by the context is reused; otherwise a fresh session is
// created carrying the context's identity metadata. An unresolved
// agent id is an authorization failure unless anonymous fallback is
// enabled.
func (r *Router) resolve(cmd command.Command, execCtx command.Context) (*agents.Agent, *session.Session, error) {
	agentID := cmd.AgentID
	if agentID == "" {
		agentID = execCtx.AgentID
	}
	agent := r.directory.Resolve(agentID)
	if agent == nil {
		if !r.allowAnonymous {
			return nil, nil, apperr.Permission("agent %q is not recognized", agentID)
		}
		agent = r.directory.Resolve(shared.AnonymousAgentID)
		if agent == nil {
			return nil, nil, apperr.Permission("anonymous access is not configured")
		}
	}

	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = execCtx.SessionID
	}
	if sessionID != "" {
		if sess := r.sessions.Resolve(sessionID); sess != nil {
			return agent, sess, nil
		}
	}
	sess := r.sessions.Create(session.CreateOptions{
		AgentID: agent.ID,
		UserID:  execCtx.UserID,
		Metadata: map[string]any{
			"correlationId": execCtx.CorrelationID,
			"userAgent":     execCtx.UserAgent,
			"ip":            execCtx.IP,
		},
	})
	if r.bus != nil {
		r.bus.Publish(bus.TopicSessionCreated, bus.SessionEvent{SessionID: sess.ID, AgentID: agent.ID})
	}
	return agent, sess, nil
}

func (r *Router) fail(cmd command.Command, correlationID string, execCtx command.Context, started time.Time, err error) Response {
	ae := apperr.From(err)
	elapsed := time.Since(started)

	// Full detail goes to the log; the envelope carries the sanitized
	// message only.
	logAttrs := []any{
		"correlation_id", correlationID,
		"command", cmd.String(),
		"code", string(ae.Code),
		"error", ae.Message,
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if cause := errors.Unwrap(ae); cause != nil {
		logAttrs = append(logAttrs, "cause", cause.Error())
	}
	r.log.Error(correlationID, cmd.String(), execCtx.AgentID, execCtx.SessionID, elapsed, string(ae.Code), ae.Message)
	r.logger.Warn("command_error", logAttrs...)
	if !r.production && ae.Code == apperr.CodeExecution && ae.Stack == "" {
		ae.WithStack()
	}
	r.observe(context.Background(), cmd, elapsed, string(ae.Code))

	re := &ResponseError{
		Code:    string(ae.Code),
		Message: ae.Message,
		Details: ae.Violations,
	}
	if !r.production {
		re.Stack = ae.Stack
	}
	return Response{
		Success: false,
		Command: cmd.String(),
		Error:   re,
		Metadata: Metadata{
			Timestamp:     time.Now().UTC(),
			CorrelationID: correlationID,
		},
	}
}

func (r *Router) observe(ctx context.Context, cmd command.Command, elapsed time.Duration, errCode string) {
	if r.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		otel.AttrAction.String(string(cmd.Action)),
		otel.AttrTargetType.String(string(cmd.TargetType)),
	)
	r.metrics.CommandDuration.Record(ctx, elapsed.Seconds(), attrs)
	if errCode != "" {
		r.metrics.CommandErrors.Add(ctx, 1, attrs, metric.WithAttributes(otel.AttrErrorCode.String(errCode)))
	}
}
