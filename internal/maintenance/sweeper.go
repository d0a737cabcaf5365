// Package maintenance runs the background sweeps that keep the session
// store and agent directory from accumulating dead records.
package maintenance

import (
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/session"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

const defaultAgentInactivity = 24 * time.Hour

// Config holds the dependencies for the sweeper.
type Config struct {
	Sessions  *session.Store
	Directory *agents.Directory
	Bus       *bus.Bus
	Logger    *slog.Logger

	// SessionSweepSpec defaults to every 5 minutes.
	SessionSweepSpec string
	// AgentSweepSpec defaults to hourly.
	AgentSweepSpec string
	// AgentInactivity is how long an agent may stay idle before being
	// marked inactive. Defaults to 24h.
	AgentInactivity time.Duration
}

// Sweeper schedules expiry sweeps over sessions and agents.
type Sweeper struct {
	sessions   *session.Store
	directory  *agents.Directory
	bus        *bus.Bus
	logger     *slog.Logger
	inactivity time.Duration
	cron       *cronlib.Cron
}

func NewSweeper(cfg Config) (*Sweeper, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionSpec := cfg.SessionSweepSpec
	if sessionSpec == "" {
		sessionSpec = "*/5 * * * *"
	}
	agentSpec := cfg.AgentSweepSpec
	if agentSpec == "" {
		agentSpec = "0 * * * *"
	}
	inactivity := cfg.AgentInactivity
	if inactivity <= 0 {
		inactivity = defaultAgentInactivity
	}

	s := &Sweeper{
		sessions:   cfg.Sessions,
		directory:  cfg.Directory,
		bus:        cfg.Bus,
		logger:     logger,
		inactivity: inactivity,
		cron:       cronlib.New(cronlib.WithParser(cronParser)),
	}
	if _, err := s.cron.AddFunc(sessionSpec, s.SweepSessions); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(agentSpec, s.SweepAgents); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule in a background goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("maintenance sweeper started")
}

// Stop halts scheduling and waits for any running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance sweeper stopped")
}

// SweepSessions expires overdue sessions and purges long-expired ones.
func (s *Sweeper) SweepSessions() {
	if s.sessions == nil {
		return
	}
	expired, purged := s.sessions.Sweep()
	if expired == 0 && purged == 0 {
		return
	}
	s.logger.Info("session sweep", "expired", expired, "purged", purged)
	if s.bus != nil {
		s.bus.Publish(bus.TopicSweepSessions, bus.SweepEvent{Expired: expired, Purged: purged})
	}
}

// SweepAgents marks agents inactive after the configured idle period.
func (s *Sweeper) SweepAgents() {
	if s.directory == nil {
		return
	}
	changed := s.directory.CleanupInactive(s.inactivity)
	if changed == 0 {
		return
	}
	s.logger.Info("agent sweep", "deactivated", changed)
	if s.bus != nil {
		s.bus.Publish(bus.TopicSweepAgents, bus.SweepEvent{Expired: changed})
	}
}

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
