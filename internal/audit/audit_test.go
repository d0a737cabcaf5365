package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskdeck/internal/bus"
)

func TestLifecycleEntries(t *testing.T) {
	cl, err := New(Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cl.Start("corr_1", "create:list:q4_plan", "agent_writer", "session_1")
	cl.Success("corr_1", "create:list:q4_plan", "agent_writer", "session_1", 12*time.Millisecond)
	cl.Error("corr_2", "delete:list:q4_plan", "agent_reader", "session_2", 3*time.Millisecond, "PERMISSION_ERROR", "denied")

	recent := cl.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("entries: got %d want 3", len(recent))
	}
	// Newest first.
	if recent[0].Kind != KindError || recent[0].ErrorCode != "PERMISSION_ERROR" {
		t.Fatalf("newest entry: %+v", recent[0])
	}
	if recent[2].Kind != KindStart {
		t.Fatalf("oldest entry: %+v", recent[2])
	}
	if cl.ErrorCount() != 1 {
		t.Fatalf("error count: got %d want 1", cl.ErrorCount())
	}
}

func TestRingEviction(t *testing.T) {
	cl, err := New(Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < ringCap+50; i++ {
		cl.Success("corr", "read:list:l1", "agent_reader", "", time.Millisecond)
	}
	if got := len(cl.Recent(0)); got != ringCap {
		t.Fatalf("ring size: got %d want %d", got, ringCap)
	}
}

func TestErrorMessageRedacted(t *testing.T) {
	cl, err := New(Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cl.Error("corr", "execute:workflow:wf1", "agent_executor", "", time.Millisecond,
		"EXECUTION_ERROR", "backend rejected api_key=sk-abc123def456ghi789jkl012")
	msg := cl.Recent(1)[0].Message
	if msg == "" {
		t.Fatalf("message missing")
	}
	if strings.Contains(msg, "sk-abc123def456ghi789jkl012") {
		t.Fatalf("secret leaked into audit entry: %q", msg)
	}
}

func TestJSONLSink(t *testing.T) {
	dir := t.TempDir()
	cl, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cl.Success("corr_1", "read:list:l1", "agent_reader", "session_1", 5*time.Millisecond)
	if err := cl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "logs", "command.jsonl"))
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("sink empty")
	}
	var e Entry
	if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
		t.Fatalf("parse sink line: %v", err)
	}
	if e.Kind != KindSuccess || e.Command != "read:list:l1" || e.CorrelationID != "corr_1" {
		t.Fatalf("sink entry: %+v", e)
	}
}

func TestBusPublication(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe(bus.TopicCommandFailed)
	defer b.Unsubscribe(sub)

	cl, err := New(Options{Bus: b})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cl.Error("corr_9", "update:item:i1", "agent_writer", "", 2*time.Millisecond, "NOT_FOUND", "item missing")

	select {
	case ev := <-sub.Ch():
		ce, ok := ev.Payload.(bus.CommandEvent)
		if !ok {
			t.Fatalf("payload type: %T", ev.Payload)
		}
		if ce.CorrelationID != "corr_9" || ce.ErrorCode != "NOT_FOUND" {
			t.Fatalf("event: %+v", ce)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus event")
	}
}

func TestSnapshotWindow(t *testing.T) {
	cl, err := New(Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cl.now = func() time.Time { return current }

	// Outside the window.
	cl.Success("old", "read:list:l1", "agent_reader", "", 100*time.Millisecond)

	current = base.Add(10 * time.Minute)
	cl.Success("new1", "read:list:l1", "agent_reader", "", 10*time.Millisecond)
	cl.Success("new2", "create:list:l2", "agent_writer", "", 40*time.Millisecond)
	cl.Error("new3", "delete:list:l1", "agent_reader", "", 5*time.Millisecond, "PERMISSION_ERROR", "denied")
	cl.Start("new4", "read:list:l1", "agent_reader", "")

	m := cl.Snapshot()
	if m.Completed != 3 {
		t.Fatalf("completed: got %d want 3 (stale and start entries excluded)", m.Completed)
	}
	if m.Errors != 1 {
		t.Fatalf("errors: got %d want 1", m.Errors)
	}
	if m.ErrorRate < 0.33 || m.ErrorRate > 0.34 {
		t.Fatalf("error rate: %v", m.ErrorRate)
	}
	if len(m.Slowest) == 0 || m.Slowest[0].Command != "create:list:l2" {
		t.Fatalf("slowest: %+v", m.Slowest)
	}
	if m.TotalStarted != 1 || m.TotalErrors != 1 {
		t.Fatalf("totals: %+v", m)
	}
}
