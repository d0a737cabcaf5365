package policy_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/policy"
	"github.com/basket/taskdeck/internal/session"
)

func newEngine() (*policy.Engine, *agents.Directory) {
	dir := agents.NewDirectory(agents.Options{})
	return policy.NewEngine(policy.NewLiveRules(policy.Default())), dir
}

func cmd(action command.Action, target command.TargetType, id string) command.Command {
	return command.Command{Action: action, TargetType: target, TargetID: id}
}

func TestAuthorize_SystemAgentAlwaysPasses(t *testing.T) {
	e, dir := newEngine()
	sys := dir.Resolve("system")
	for _, c := range []command.Command{
		cmd(command.ActionDelete, command.TargetList, "l1"),
		cmd(command.ActionDeploy, command.TargetSystem, "system"),
		cmd(command.ActionTrain, command.TargetWorkflow, "wf"),
	} {
		if err := e.Authorize(c, sys, nil); err != nil {
			t.Fatalf("system agent denied %s: %v", c.String(), err)
		}
	}
}

func TestAuthorize_AdminPassesEveryRule(t *testing.T) {
	e, dir := newEngine()
	admin := dir.Create(agents.Spec{Name: "Admin", Role: "ops", Permissions: []string{"admin"}})
	live := session.NewStore(nil).Create(session.CreateOptions{AgentID: admin.ID})
	for _, rs := range policy.Default().Rules {
		c := cmd(rs.Action, rs.TargetType, "placeholder")
		c.AgentID = admin.ID
		if err := e.Authorize(c, admin, live); err != nil {
			t.Fatalf("admin denied %s:%s: %v", rs.Action, rs.TargetType, err)
		}
	}
}

func TestAuthorize_RequiresAllPermissionsOfSomeRule(t *testing.T) {
	e, dir := newEngine()
	writer := dir.Resolve("agent_writer")

	if err := e.Authorize(cmd(command.ActionCreate, command.TargetList, "q4_plan"), writer, nil); err != nil {
		t.Fatalf("writer should create lists: %v", err)
	}

	// delete:list needs write+delete; writer only has read+write.
	err := e.Authorize(cmd(command.ActionDelete, command.TargetList, "q4_plan"), writer, nil)
	assertPermissionError(t, err, "agent_writer")
}

func TestAuthorize_ReaderDeniedWrite(t *testing.T) {
	e, dir := newEngine()
	reader := dir.Resolve("agent_reader")

	if err := e.Authorize(cmd(command.ActionRead, command.TargetList, "q4_plan"), reader, nil); err != nil {
		t.Fatalf("reader should read lists: %v", err)
	}
	err := e.Authorize(cmd(command.ActionDelete, command.TargetList, "q4_plan"), reader, nil)
	assertPermissionError(t, err, "agent_reader")
}

func TestAuthorize_CapabilityRequired(t *testing.T) {
	e, dir := newEngine()
	// Permissions suffice but the capability is missing.
	a := dir.Create(agents.Spec{Name: "NoCaps", Role: "worker", Permissions: []string{"read", "write"}})
	err := e.Authorize(cmd(command.ActionCreate, command.TargetList, "l1"), a, nil)
	assertPermissionError(t, err, a.ID)

	// The "all" capability sentinel unlocks it.
	all := dir.Create(agents.Spec{Name: "AllCaps", Role: "worker", Permissions: []string{"read", "write"}, Capabilities: []string{"all"}})
	if err := e.Authorize(cmd(command.ActionCreate, command.TargetList, "l1"), all, nil); err != nil {
		t.Fatalf("'all' capability holder denied: %v", err)
	}
}

func TestAuthorize_NoMatchingRuleRequiresAdmin(t *testing.T) {
	e, dir := newEngine()
	writer := dir.Resolve("agent_writer")
	// No default rule grants deploy:system.
	err := e.Authorize(cmd(command.ActionDeploy, command.TargetSystem, "system"), writer, nil)
	assertPermissionError(t, err, "agent_writer")

	admin := dir.Create(agents.Spec{Name: "Admin", Role: "ops", Permissions: []string{"admin"}})
	if err := e.Authorize(cmd(command.ActionDeploy, command.TargetSystem, "system"), admin, nil); err != nil {
		t.Fatalf("admin denied unruled pair: %v", err)
	}
}

func TestAuthorize_NilAgentDenied(t *testing.T) {
	e, _ := newEngine()
	err := e.Authorize(cmd(command.ActionRead, command.TargetList, "l1"), nil, nil)
	if err == nil {
		t.Fatalf("nil agent must be denied")
	}
}

func TestAuthorize_OwnerCondition(t *testing.T) {
	e, dir := newEngine()
	reader := dir.Resolve("agent_reader")
	sessions := session.NewStore(nil)
	own := sessions.Create(session.CreateOptions{AgentID: reader.ID})
	other := sessions.Create(session.CreateOptions{AgentID: "agent_writer"})

	c := cmd(command.ActionRead, command.TargetSession, own.ID)
	if err := e.Authorize(c, reader, own); err != nil {
		t.Fatalf("owner should read own session: %v", err)
	}

	c = cmd(command.ActionRead, command.TargetSession, other.ID)
	if err := e.Authorize(c, reader, own); err == nil {
		t.Fatalf("reading another session must be denied")
	}
}

func TestAuthorize_ActiveSessionCondition(t *testing.T) {
	e, dir := newEngine()
	reader := dir.Resolve("agent_reader")

	// monitor:system requires a live session.
	if err := e.Authorize(cmd(command.ActionMonitor, command.TargetSystem, "system"), reader, nil); err == nil {
		t.Fatalf("monitor without session must be denied")
	}
	sessions := session.NewStore(nil)
	live := sessions.Create(session.CreateOptions{AgentID: reader.ID})
	if err := e.Authorize(cmd(command.ActionMonitor, command.TargetSystem, "system"), reader, live); err != nil {
		t.Fatalf("monitor with live session denied: %v", err)
	}
}

func TestAllowedActions_Discovery(t *testing.T) {
	e, dir := newEngine()
	reader := dir.Resolve("agent_reader")
	allowed := e.AllowedActions(reader)
	if len(allowed) == 0 {
		t.Fatalf("reader should have some allowed actions")
	}
	has := func(a command.Action, tt command.TargetType) bool {
		for _, pair := range allowed {
			if pair.Action == a && pair.TargetType == tt {
				return true
			}
		}
		return false
	}
	if !has(command.ActionRead, command.TargetList) {
		t.Fatalf("reader must be able to read lists: %+v", allowed)
	}
	if has(command.ActionDelete, command.TargetList) {
		t.Fatalf("reader must not be able to delete lists")
	}
}

func TestLoad_FileOverridesAndValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := "rules:\n  - action: deploy\n    target_type: system\n    required_permissions: [operate]\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rs, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("rules: got %d want 1", len(rs.Rules))
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules:\n  - action: explode\n    target_type: system\n"), 0o644); err != nil {
		t.Fatalf("write bad rules: %v", err)
	}
	if _, err := policy.Load(bad); err == nil {
		t.Fatalf("unknown action must be rejected")
	}
}

func TestLoad_MissingFileYieldsDefault(t *testing.T) {
	rs, err := policy.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rs.Rules) == 0 {
		t.Fatalf("expected default rules")
	}
}

func TestReloadFromFile_InvalidRetainsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - action: read\n    target_type: list\n    required_permissions: [read]\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	initial, err := policy.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	live := policy.NewLiveRules(initial)

	if err := os.WriteFile(path, []byte("rules:\n  - action: nope\n    target_type: list\n"), 0o644); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	if err := policy.ReloadFromFile(live, path); err == nil {
		t.Fatalf("invalid reload must error")
	}
	if got := live.Snapshot(); len(got.Rules) != 1 || got.Rules[0].Action != command.ActionRead {
		t.Fatalf("previous rules lost on failed reload: %+v", got.Rules)
	}
}

func assertPermissionError(t *testing.T, err error, agentID string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected permission error")
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodePermission {
		t.Fatalf("expected PERMISSION_ERROR, got %v", err)
	}
	if !strings.Contains(ae.Message, agentID) {
		t.Fatalf("denial must name the agent %q: %q", agentID, ae.Message)
	}
}
