package services

import (
	"context"
	"runtime"
	"time"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/audit"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/persistence"
	"github.com/basket/taskdeck/internal/policy"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/session"
)

// SystemService answers introspection and operations commands:
// status/monitor/log read out the process, deploy/rollback manage the
// live permission rules, optimize compacts the database, test runs a
// self-check, debug dumps runtime counters.
type SystemService struct {
	store      *persistence.Store
	sessions   *session.Store
	directory  *agents.Directory
	log        *audit.CommandLog
	registry   *registry.Registry
	rules      *policy.LiveRules
	policyPath string
	startedAt  time.Time
}

// SystemDeps carries the handles the system service reads from.
type SystemDeps struct {
	Store      *persistence.Store
	Sessions   *session.Store
	Directory  *agents.Directory
	Log        *audit.CommandLog
	Registry   *registry.Registry
	Rules      *policy.LiveRules
	PolicyPath string
}

// NewSystemService wires the system service.
func NewSystemService(deps SystemDeps) *SystemService {
	return &SystemService{
		store:      deps.Store,
		sessions:   deps.Sessions,
		directory:  deps.Directory,
		log:        deps.Log,
		registry:   deps.Registry,
		rules:      deps.Rules,
		policyPath: deps.PolicyPath,
		startedAt:  time.Now().UTC(),
	}
}

func (s *SystemService) Name() string                   { return "system" }
func (s *SystemService) TargetType() command.TargetType { return command.TargetSystem }

func (s *SystemService) Execute(ctx context.Context, cmd command.Command) (any, error) {
	switch cmd.Action {
	case command.ActionStatus:
		return s.status(), nil

	case command.ActionMonitor:
		return s.log.Snapshot(), nil

	case command.ActionLog:
		limit := 50
		if v, ok := cmd.Parameters["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}
		return s.log.Recent(limit), nil

	case command.ActionDebug:
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		return map[string]any{
			"goroutines":  runtime.NumGoroutine(),
			"heapBytes":   mem.HeapAlloc,
			"gcCycles":    mem.NumGC,
			"goVersion":   runtime.Version(),
			"activeRules": len(s.rules.Snapshot().Rules),
		}, nil

	case command.ActionDeploy:
		// Re-read the permission rules from disk; the previous set
		// stays active when the file is invalid.
		if err := policy.ReloadFromFile(s.rules, s.policyPath); err != nil {
			return nil, apperr.Execution("permission rules reload failed", err)
		}
		return map[string]any{"deployed": "permission rules", "rules": len(s.rules.Snapshot().Rules)}, nil

	case command.ActionRollback:
		s.rules.Reload(policy.Default())
		return map[string]any{"rolledBack": "permission rules", "rules": len(s.rules.Snapshot().Rules)}, nil

	case command.ActionOptimize:
		for _, stmt := range []string{"PRAGMA optimize;", "PRAGMA wal_checkpoint(TRUNCATE);"} {
			if _, err := s.store.DB().ExecContext(ctx, stmt); err != nil {
				return nil, apperr.Execution("database optimization failed", err)
			}
		}
		return map[string]any{"optimized": true}, nil

	case command.ActionTest:
		return s.selfCheck(ctx), nil

	default:
		return nil, apperr.Validation("action " + string(cmd.Action) + " not supported for system")
	}
}

func (s *SystemService) status() map[string]any {
	summary := s.registry.HealthSummary()
	return map[string]any{
		"uptimeSeconds":  int(time.Since(s.startedAt).Seconds()),
		"health":         summary,
		"activeSessions": s.sessions.Count()[session.StatusActive],
		"agents":         len(s.directory.List(agents.Filter{})),
		"commandErrors":  s.log.ErrorCount(),
	}
}

func (s *SystemService) selfCheck(ctx context.Context) map[string]any {
	checks := map[string]string{}
	if err := s.store.DB().PingContext(ctx); err != nil {
		checks["database"] = err.Error()
	} else {
		checks["database"] = "ok"
	}
	if _, err := command.NewValidator(); err != nil {
		checks["validator"] = err.Error()
	} else {
		checks["validator"] = "ok"
	}
	summary := s.registry.HealthSummary()
	checks["services"] = string(summary.Overall)
	return map[string]any{"checks": checks}
}

func (s *SystemService) Tools() ([]registry.Tool, error) {
	return []registry.Tool{
		{Name: "system_status", Action: "status", Description: "Process uptime and health"},
		{Name: "system_monitor", Action: "monitor", Description: "Rolling command metrics"},
		{Name: "system_log", Action: "log", Description: "Recent command log entries"},
		{Name: "system_deploy", Action: "deploy", Description: "Reload permission rules from disk"},
		{Name: "system_rollback", Action: "rollback", Description: "Restore built-in permission rules"},
	}, nil
}

func (s *SystemService) Resources() ([]registry.Resource, error) {
	return []registry.Resource{
		{URI: "taskdeck://system/metrics", Name: "metrics"},
		{URI: "taskdeck://system/log", Name: "command log"},
	}, nil
}

func (s *SystemService) Status() registry.Health {
	if err := s.store.DB().Ping(); err != nil {
		return registry.Health{State: registry.Degraded, Detail: "database unreachable: " + err.Error()}
	}
	return registry.Health{State: registry.Healthy}
}
