// Package audit records correlation-tagged command lifecycle events.
// The log is an injected handle, not package state: constructed at
// startup and passed to the router, so tests can observe entries
// without touching the filesystem.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/shared"
)

// Kind tags a lifecycle entry.
type Kind string

const (
	KindStart   Kind = "start"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// ringCap bounds the in-memory log; the oldest entry is evicted first.
const ringCap = 1000

// metricsWindow is the rolling span the Snapshot covers.
const metricsWindow = 5 * time.Minute

// slowestN bounds the slowest-commands list in a snapshot.
const slowestN = 5

// Entry is one lifecycle event.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Kind          Kind      `json:"kind"`
	CorrelationID string    `json:"correlationId"`
	Command       string    `json:"command"`
	AgentID       string    `json:"agentId,omitempty"`
	SessionID     string    `json:"sessionId,omitempty"`
	DurationMS    int64     `json:"durationMs,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// Options configures a CommandLog. All sinks are optional: with none
// set the log is purely in-memory.
type Options struct {
	// Dir, when set, receives an append-only logs/command.jsonl file.
	Dir string
	// DB, when set, mirrors entries into the audit_log table.
	DB *sql.DB
	// Bus, when set, publishes lifecycle events for live consumers.
	Bus    *bus.Bus
	Logger *slog.Logger
}

// CommandLog is the process-wide command event log: a capped in-memory
// ring feeding rolling metrics, plus optional JSONL, SQLite, and bus
// sinks.
type CommandLog struct {
	mu      sync.Mutex
	ring    []Entry
	file    *os.File
	db      *sql.DB
	bus     *bus.Bus
	logger  *slog.Logger
	errors  atomic.Int64
	started atomic.Int64
	now     func() time.Time
}

// New opens a CommandLog. When opts.Dir is set the JSONL sink is
// created under <dir>/logs/command.jsonl.
func New(opts Options) (*CommandLog, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cl := &CommandLog{
		db:     opts.DB,
		bus:    opts.Bus,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if opts.Dir != "" {
		logDir := filepath.Join(opts.Dir, "logs")
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(logDir, "command.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		cl.file = f
	}
	return cl, nil
}

// Close releases the JSONL sink. The in-memory ring stays readable.
func (cl *CommandLog) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := cl.file.Close()
	cl.file = nil
	return err
}

// Start records the beginning of a command execution.
func (cl *CommandLog) Start(correlationID, cmd, agentID, sessionID string) {
	cl.started.Add(1)
	cl.record(Entry{
		Kind:          KindStart,
		CorrelationID: correlationID,
		Command:       cmd,
		AgentID:       agentID,
		SessionID:     sessionID,
	}, bus.TopicCommandStarted)
}

// Success records a completed command with its elapsed time.
func (cl *CommandLog) Success(correlationID, cmd, agentID, sessionID string, duration time.Duration) {
	cl.record(Entry{
		Kind:          KindSuccess,
		CorrelationID: correlationID,
		Command:       cmd,
		AgentID:       agentID,
		SessionID:     sessionID,
		DurationMS:    duration.Milliseconds(),
	}, bus.TopicCommandSucceeded)
}

// Error records a failed command. The message is redacted before it
// reaches any sink.
func (cl *CommandLog) Error(correlationID, cmd, agentID, sessionID string, duration time.Duration, code, message string) {
	cl.errors.Add(1)
	cl.record(Entry{
		Kind:          KindError,
		CorrelationID: correlationID,
		Command:       cmd,
		AgentID:       agentID,
		SessionID:     sessionID,
		DurationMS:    duration.Milliseconds(),
		ErrorCode:     code,
		Message:       shared.Redact(message),
	}, bus.TopicCommandFailed)
}

// ErrorCount returns the total number of error entries since startup.
func (cl *CommandLog) ErrorCount() int64 {
	return cl.errors.Load()
}

func (cl *CommandLog) record(e Entry, topic string) {
	e.Timestamp = cl.now()

	cl.mu.Lock()
	cl.ring = append(cl.ring, e)
	if len(cl.ring) > ringCap {
		cl.ring = cl.ring[len(cl.ring)-ringCap:]
	}
	file := cl.file
	if file != nil {
		if b, err := json.Marshal(e); err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}
	cl.mu.Unlock()

	if cl.db != nil {
		_, err := cl.db.ExecContext(context.Background(), `
			INSERT INTO audit_log (ts, kind, correlation_id, command, agent_id, session_id, duration_ms, error_code, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, e.Timestamp.Format(time.RFC3339Nano), string(e.Kind), e.CorrelationID, e.Command,
			e.AgentID, e.SessionID, e.DurationMS, e.ErrorCode, e.Message)
		if err != nil {
			cl.logger.Warn("audit db write failed", "error", err)
		}
	}
	if cl.bus != nil {
		cl.bus.Publish(topic, bus.CommandEvent{
			CorrelationID: e.CorrelationID,
			Command:       e.Command,
			AgentID:       e.AgentID,
			SessionID:     e.SessionID,
			DurationMS:    e.DurationMS,
			ErrorCode:     e.ErrorCode,
		})
	}
}

// Recent returns up to n newest entries, newest first.
func (cl *CommandLog) Recent(n int) []Entry {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if n <= 0 || n > len(cl.ring) {
		n = len(cl.ring)
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = cl.ring[len(cl.ring)-1-i]
	}
	return out
}

// SlowCommand is one entry of the slowest-commands leaderboard.
type SlowCommand struct {
	Command    string `json:"command"`
	DurationMS int64  `json:"durationMs"`
}

// Metrics is a rolling-window performance snapshot.
type Metrics struct {
	WindowSeconds     int           `json:"windowSeconds"`
	Completed         int           `json:"completed"`
	Errors            int           `json:"errors"`
	ErrorRate         float64       `json:"errorRate"`
	ThroughputPerMin  float64       `json:"throughputPerMin"`
	AverageDurationMS float64       `json:"averageDurationMs"`
	Slowest           []SlowCommand `json:"slowest"`
	TotalErrors       int64         `json:"totalErrors"`
	TotalStarted      int64         `json:"totalStarted"`
}

// Snapshot computes rolling metrics over the last five minutes of
// completed entries. Start entries are excluded.
func (cl *CommandLog) Snapshot() Metrics {
	cutoff := cl.now().Add(-metricsWindow)

	cl.mu.Lock()
	var window []Entry
	for _, e := range cl.ring {
		if e.Kind != KindStart && !e.Timestamp.Before(cutoff) {
			window = append(window, e)
		}
	}
	cl.mu.Unlock()

	m := Metrics{
		WindowSeconds: int(metricsWindow.Seconds()),
		Completed:     len(window),
		TotalErrors:   cl.errors.Load(),
		TotalStarted:  cl.started.Load(),
	}
	if len(window) == 0 {
		return m
	}
	var totalMS int64
	for _, e := range window {
		totalMS += e.DurationMS
		if e.Kind == KindError {
			m.Errors++
		}
	}
	m.ErrorRate = float64(m.Errors) / float64(len(window))
	m.ThroughputPerMin = float64(len(window)) / metricsWindow.Minutes()
	m.AverageDurationMS = float64(totalMS) / float64(len(window))

	sort.Slice(window, func(i, j int) bool { return window[i].DurationMS > window[j].DurationMS })
	for i := 0; i < len(window) && i < slowestN; i++ {
		m.Slowest = append(m.Slowest, SlowCommand{Command: window[i].Command, DurationMS: window[i].DurationMS})
	}
	return m
}
