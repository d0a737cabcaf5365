// Package registry holds the pluggable catalog of command services.
// The router dispatches each validated command to the service
// registered for its target type; services describe their tools and
// resources for capability discovery and report a health status.
package registry

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/session"
)

// FrameType classifies one element of an incremental execution.
type FrameType string

const (
	// FrameProgress reports intermediate progress.
	FrameProgress FrameType = "progress"
	// FrameResult carries a service-defined payload.
	FrameResult FrameType = "result"
	// FrameError terminates the stream with an error payload.
	FrameError FrameType = "error"
)

// Frame is one element of a streamed execution. A FrameError frame is
// always terminal.
type Frame struct {
	Type FrameType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// ProgressFrame builds a progress frame with a human-readable stage.
func ProgressFrame(stage string, detail any) Frame {
	return Frame{Type: FrameProgress, Data: map[string]any{"stage": stage, "detail": detail}}
}

// ErrorFrame converts an error into a terminal error frame.
func ErrorFrame(err error) Frame {
	ae := apperr.From(err)
	return Frame{Type: FrameError, Data: map[string]any{"code": string(ae.Code), "message": ae.Message}}
}

// Tool describes one operation a service exposes.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Action      string `json:"action,omitempty"`
}

// Resource describes one addressable datum a service exposes.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// HealthState orders worst-last for summary aggregation.
type HealthState string

const (
	Healthy  HealthState = "healthy"
	Degraded HealthState = "degraded"
	Errored  HealthState = "error"
)

func healthRank(s HealthState) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	default:
		return 2
	}
}

// Health is one service's self-reported status.
type Health struct {
	State  HealthState `json:"state"`
	Detail string      `json:"detail,omitempty"`
}

// Service executes validated commands for one target type.
type Service interface {
	// Name returns the unique service name (e.g. "lists").
	Name() string

	// TargetType returns the command target type this service handles.
	TargetType() command.TargetType

	// Execute runs one validated command and returns a service-defined
	// result. Errors should be *apperr.Error where the caller's message
	// matters; anything else is sanitized to an EXECUTION_ERROR.
	Execute(ctx context.Context, cmd command.Command) (any, error)

	// Tools enumerates the operations the service exposes.
	Tools() ([]Tool, error)

	// Resources enumerates the data the service exposes.
	Resources() ([]Resource, error)

	// Status reports current health.
	Status() Health
}

// Streamer is implemented by services that produce incremental
// results. The returned sequence is finite and non-restartable; the
// caller cancels by ceasing to pull.
type Streamer interface {
	ExecuteStream(ctx context.Context, cmd command.Command) iter.Seq[Frame]
}

// Registry maps target types to registered services.
type Registry struct {
	mu       sync.RWMutex
	services map[command.TargetType]Service
	logger   *slog.Logger
}

// New builds an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		services: make(map[command.TargetType]Service),
		logger:   logger,
	}
}

// Register adds a service. Registering a second service for the same
// target type is an error; Unregister first to replace.
func (r *Registry) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("nil service")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tt := svc.TargetType()
	if existing, ok := r.services[tt]; ok {
		return fmt.Errorf("target type %q already served by %q", tt, existing.Name())
	}
	r.services[tt] = svc
	r.logger.Info("service registered", "service", svc.Name(), "target_type", string(tt))
	return nil
}

// Unregister removes the service for a target type, reporting whether
// one was registered.
func (r *Registry) Unregister(tt command.TargetType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[tt]; !ok {
		return false
	}
	delete(r.services, tt)
	return true
}

// Lookup returns the service for a target type.
func (r *Registry) Lookup(tt command.TargetType) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[tt]
	return svc, ok
}

// Dispatch routes a validated command to its service. A missing
// service yields NOT_FOUND.
func (r *Registry) Dispatch(ctx context.Context, cmd command.Command) (any, error) {
	svc, ok := r.Lookup(cmd.TargetType)
	if !ok {
		return nil, apperr.NotFound("no service registered for target type %q", cmd.TargetType)
	}
	return svc.Execute(ctx, cmd)
}

// DispatchStream routes a validated command to a streaming execution.
// Services that do not implement Streamer are adapted: their Execute
// result becomes a single result frame. A missing service yields
// NOT_FOUND.
func (r *Registry) DispatchStream(ctx context.Context, cmd command.Command) (iter.Seq[Frame], error) {
	svc, ok := r.Lookup(cmd.TargetType)
	if !ok {
		return nil, apperr.NotFound("no service registered for target type %q", cmd.TargetType)
	}
	if streamer, ok := svc.(Streamer); ok {
		return streamer.ExecuteStream(ctx, cmd), nil
	}
	return func(yield func(Frame) bool) {
		result, err := svc.Execute(ctx, cmd)
		if err != nil {
			yield(ErrorFrame(err))
			return
		}
		yield(Frame{Type: FrameResult, Data: result})
	}, nil
}

// Toolset is one service's tool enumeration. A service whose Tools
// call failed appears with Error set and an empty tool list instead of
// aborting the whole enumeration.
type Toolset struct {
	Service    string             `json:"service"`
	TargetType command.TargetType `json:"targetType"`
	Tools      []Tool             `json:"tools"`
	Error      string             `json:"error,omitempty"`
}

// enumerationAllowed gates catalog listing on the caller's identity.
// A nil agent means an internal caller and sees the full catalog. An
// identified agent needs the read permission, and a session supplied
// alongside it must still be active.
func enumerationAllowed(agent *agents.Agent, sess *session.Session) bool {
	if agent == nil {
		return true
	}
	if !agents.ValidatePermissions(agent, []string{"read"}) {
		return false
	}
	return sess == nil || sess.Status == session.StatusActive
}

// ListTools enumerates every service's tools, sorted by service name.
// The optional identity restricts the catalog to callers allowed to
// read it.
func (r *Registry) ListTools(agent *agents.Agent, sess *session.Session) []Toolset {
	if !enumerationAllowed(agent, sess) {
		return nil
	}
	var out []Toolset
	for _, svc := range r.snapshot() {
		ts := Toolset{Service: svc.Name(), TargetType: svc.TargetType()}
		tools, err := svc.Tools()
		if err != nil {
			ts.Error = err.Error()
			r.logger.Warn("tool enumeration failed", "service", svc.Name(), "error", err)
		} else {
			ts.Tools = tools
		}
		out = append(out, ts)
	}
	return out
}

// Resourceset is one service's resource enumeration; failures surface
// the same way as Toolset.
type Resourceset struct {
	Service    string             `json:"service"`
	TargetType command.TargetType `json:"targetType"`
	Resources  []Resource         `json:"resources"`
	Error      string             `json:"error,omitempty"`
}

// ListResources enumerates every service's resources, sorted by
// service name, gated the same way as ListTools.
func (r *Registry) ListResources(agent *agents.Agent, sess *session.Session) []Resourceset {
	if !enumerationAllowed(agent, sess) {
		return nil
	}
	var out []Resourceset
	for _, svc := range r.snapshot() {
		rs := Resourceset{Service: svc.Name(), TargetType: svc.TargetType()}
		resources, err := svc.Resources()
		if err != nil {
			rs.Error = err.Error()
			r.logger.Warn("resource enumeration failed", "service", svc.Name(), "error", err)
		} else {
			rs.Resources = resources
		}
		out = append(out, rs)
	}
	return out
}

// ServiceHealth pairs a service with its reported status.
type ServiceHealth struct {
	Service    string             `json:"service"`
	TargetType command.TargetType `json:"targetType"`
	Health     Health             `json:"health"`
}

// Summary aggregates per-service health into a worst-wins overall
// state. An empty registry is healthy.
type Summary struct {
	Overall  HealthState     `json:"overall"`
	Services []ServiceHealth `json:"services"`
}

// HealthSummary polls every registered service.
func (r *Registry) HealthSummary() Summary {
	sum := Summary{Overall: Healthy}
	for _, svc := range r.snapshot() {
		h := svc.Status()
		sum.Services = append(sum.Services, ServiceHealth{
			Service:    svc.Name(),
			TargetType: svc.TargetType(),
			Health:     h,
		})
		if healthRank(h.State) > healthRank(sum.Overall) {
			sum.Overall = h.State
		}
	}
	return sum
}

// snapshot returns the registered services sorted by name so
// enumerations are stable.
func (r *Registry) snapshot() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
