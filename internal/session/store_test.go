package session_test

import (
	"strings"
	"testing"
	"time"

	"github.com/basket/taskdeck/internal/session"
)

func TestCreate_Defaults(t *testing.T) {
	s := session.NewStore(nil)
	sess := s.Create(session.CreateOptions{AgentID: "agent_writer", UserID: "u-1"})
	if !strings.HasPrefix(sess.ID, "session_") {
		t.Fatalf("session id prefix: %q", sess.ID)
	}
	if sess.Status != session.StatusActive {
		t.Fatalf("status: got %s", sess.Status)
	}
	wantExpiry := sess.CreatedAt.Add(session.DefaultExpiration)
	if !sess.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("default expiry: got %v want %v", sess.ExpiresAt, wantExpiry)
	}
}

func TestUpdate_IDImmutableAndActivityRefreshed(t *testing.T) {
	s := session.NewStore(nil)
	sess := s.Create(session.CreateOptions{AgentID: "a"})
	before := sess.LastActivity

	time.Sleep(5 * time.Millisecond)
	agent := "agent_writer"
	updated := s.Update(sess.ID, session.Partial{AgentID: &agent, Metadata: map[string]any{"k": "v"}})
	if updated == nil {
		t.Fatalf("update returned nil")
	}
	if updated.ID != sess.ID {
		t.Fatalf("id changed")
	}
	if updated.AgentID != "agent_writer" {
		t.Fatalf("agent not merged: %q", updated.AgentID)
	}
	if !updated.LastActivity.After(before) {
		t.Fatalf("lastActivity not refreshed")
	}
	if updated.Metadata["k"] != "v" {
		t.Fatalf("metadata not merged")
	}
}

func TestExtend_OnlyActiveSessions(t *testing.T) {
	s := session.NewStore(nil)
	sess := s.Create(session.CreateOptions{})

	extended := s.Extend(sess.ID, 15)
	if extended == nil {
		t.Fatalf("extend on active session failed")
	}
	want := sess.ExpiresAt.Add(15 * time.Minute)
	if !extended.ExpiresAt.Equal(want) {
		t.Fatalf("expiry: got %v want %v", extended.ExpiresAt, want)
	}

	s.Terminate(sess.ID)
	if s.Extend(sess.ID, 15) != nil {
		t.Fatalf("extend on terminated session must fail")
	}
}

func TestTerminate_RetainsRecord(t *testing.T) {
	s := session.NewStore(nil)
	sess := s.Create(session.CreateOptions{})
	if !s.Terminate(sess.ID) {
		t.Fatalf("terminate failed")
	}
	if s.Resolve(sess.ID) != nil {
		t.Fatalf("terminated session must not resolve")
	}
	terminated := s.List(session.Filter{Status: session.StatusTerminated})
	if len(terminated) != 1 {
		t.Fatalf("terminated session must be retained, got %d", len(terminated))
	}
	if s.Terminate(sess.ID) {
		t.Fatalf("double terminate must report false")
	}
}

func TestDelete_HardRemoval(t *testing.T) {
	s := session.NewStore(nil)
	sess := s.Create(session.CreateOptions{})
	if !s.Delete(sess.ID) {
		t.Fatalf("delete failed")
	}
	if len(s.List(session.Filter{})) != 0 {
		t.Fatalf("session still listed after delete")
	}
}

func TestList_FiltersAndPagination(t *testing.T) {
	s := session.NewStore(nil)
	for i := 0; i < 3; i++ {
		s.Create(session.CreateOptions{AgentID: "agent_writer"})
	}
	s.Create(session.CreateOptions{AgentID: "agent_reader"})

	writers := s.List(session.Filter{AgentID: "agent_writer"})
	if len(writers) != 3 {
		t.Fatalf("agent filter: got %d want 3", len(writers))
	}
	page := s.List(session.Filter{AgentID: "agent_writer", Offset: 2, Limit: 5})
	if len(page) != 1 {
		t.Fatalf("offset before limit: got %d want 1", len(page))
	}
}

func TestShutdown_TerminatesActive(t *testing.T) {
	s := session.NewStore(nil)
	s.Create(session.CreateOptions{})
	s.Create(session.CreateOptions{})
	sess := s.Create(session.CreateOptions{})
	s.Terminate(sess.ID)

	if n := s.Shutdown(); n != 2 {
		t.Fatalf("shutdown terminated: got %d want 2", n)
	}
	if len(s.List(session.Filter{Status: session.StatusActive})) != 0 {
		t.Fatalf("active sessions remain after shutdown")
	}
}

func TestSweep_NothingToDo(t *testing.T) {
	s := session.NewStore(nil)
	s.Create(session.CreateOptions{})
	expired, purged := s.Sweep()
	if expired != 0 || purged != 0 {
		t.Fatalf("fresh sessions must not be swept: expired=%d purged=%d", expired, purged)
	}
}
