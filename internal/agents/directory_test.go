package agents_test

import (
	"testing"
	"time"

	"github.com/basket/taskdeck/internal/agents"
)

func newDirectory() *agents.Directory {
	return agents.NewDirectory(agents.Options{})
}

func TestResolve_SystemAgentSeeded(t *testing.T) {
	d := newDirectory()
	sys := d.Resolve("system")
	if sys == nil {
		t.Fatalf("system agent must exist")
	}
	if sys.Status != agents.StatusActive {
		t.Fatalf("system agent status: got %s", sys.Status)
	}
}

func TestResolve_TouchesLastActivity(t *testing.T) {
	d := newDirectory()
	before := d.Resolve("agent_reader").LastActivity
	time.Sleep(5 * time.Millisecond)
	after := d.Resolve("agent_reader").LastActivity
	if !after.After(before) {
		t.Fatalf("lastActivity not refreshed: %v vs %v", before, after)
	}
}

func TestCreate_Defaults(t *testing.T) {
	d := newDirectory()
	a := d.Create(agents.Spec{Name: "Bot", Role: "worker", Permissions: []string{"read"}})
	if a.ID == "" {
		t.Fatalf("id must be assigned")
	}
	if a.Status != agents.StatusActive {
		t.Fatalf("new agents default to active, got %s", a.Status)
	}
	if a.Capabilities == nil || len(a.Capabilities) != 0 {
		t.Fatalf("capabilities must default to empty, got %v", a.Capabilities)
	}
	if a.CreatedAt.IsZero() || a.LastActivity.IsZero() {
		t.Fatalf("timestamps must be set")
	}
}

func TestUpdate_IDIsImmutable(t *testing.T) {
	d := newDirectory()
	created := d.Create(agents.Spec{Name: "Bot", Role: "worker"})

	name := "Renamed"
	updated := d.Update(created.ID, agents.Partial{Name: &name})
	if updated == nil {
		t.Fatalf("update returned nil")
	}
	if updated.ID != created.ID {
		t.Fatalf("id changed: got %q want %q", updated.ID, created.ID)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("name not merged: %q", updated.Name)
	}
	if updated.UpdatedAt == nil {
		t.Fatalf("updatedAt must be stamped")
	}
	if d.Resolve(created.ID) == nil {
		t.Fatalf("agent vanished after update")
	}
}

func TestDelete_RefusesSystem(t *testing.T) {
	d := newDirectory()
	if d.Delete("system") {
		t.Fatalf("system agent must not be deletable")
	}
	if d.Resolve("system") == nil {
		t.Fatalf("system agent removed")
	}

	a := d.Create(agents.Spec{Name: "Bot", Role: "worker"})
	if !d.Delete(a.ID) {
		t.Fatalf("expected delete to succeed")
	}
	if d.Resolve(a.ID) != nil {
		t.Fatalf("agent still resolvable after delete")
	}
	if d.Delete(a.ID) {
		t.Fatalf("second delete must report false")
	}
}

func TestList_FiltersAndPagination(t *testing.T) {
	d := newDirectory()
	for i := 0; i < 5; i++ {
		d.Create(agents.Spec{Name: "W", Role: "worker"})
	}

	workers := d.List(agents.Filter{Role: "worker"})
	if len(workers) != 5 {
		t.Fatalf("role filter: got %d want 5", len(workers))
	}

	page := d.List(agents.Filter{Role: "worker", Offset: 3, Limit: 10})
	if len(page) != 2 {
		t.Fatalf("offset before limit: got %d want 2", len(page))
	}

	page = d.List(agents.Filter{Role: "worker", Offset: 1, Limit: 2})
	if len(page) != 2 {
		t.Fatalf("limit: got %d want 2", len(page))
	}

	if got := d.List(agents.Filter{Role: "worker", Offset: 99}); len(got) != 0 {
		t.Fatalf("offset past end: got %d want 0", len(got))
	}
}

func TestValidatePermissions(t *testing.T) {
	d := newDirectory()
	sys := d.Resolve("system")
	if !agents.ValidatePermissions(sys, []string{"anything", "at", "all"}) {
		t.Fatalf("system agent must pass any permission check")
	}

	admin := d.Create(agents.Spec{Name: "A", Role: "ops", Permissions: []string{"admin"}})
	if !agents.ValidatePermissions(admin, []string{"write", "delete"}) {
		t.Fatalf("admin holder must pass")
	}

	reader := d.Resolve("agent_reader")
	if agents.ValidatePermissions(reader, []string{"write"}) {
		t.Fatalf("reader must not hold write")
	}
	if !agents.ValidatePermissions(reader, []string{"read"}) {
		t.Fatalf("reader must hold read")
	}
}

func TestValidateCapability(t *testing.T) {
	d := newDirectory()
	if !agents.ValidateCapability(d.Resolve("system"), "launch_rockets") {
		t.Fatalf("system agent must pass any capability check")
	}

	all := d.Create(agents.Spec{Name: "A", Role: "ops", Capabilities: []string{"all"}})
	if !agents.ValidateCapability(all, "create_lists") {
		t.Fatalf("'all' sentinel must pass")
	}

	reader := d.Resolve("agent_reader")
	if agents.ValidateCapability(reader, "create_lists") {
		t.Fatalf("reader must not hold create_lists")
	}
	if !agents.ValidateCapability(reader, "read_lists") {
		t.Fatalf("reader must hold read_lists")
	}
}

func TestRecordActivity_CappedMostRecentFirst(t *testing.T) {
	d := newDirectory()
	a := d.Create(agents.Spec{Name: "Bot", Role: "worker"})
	for i := 0; i < 15; i++ {
		d.RecordActivity(a.ID, "cmd")
	}
	got := d.Resolve(a.ID)
	recent, ok := got.Metadata["recentActivity"].([]string)
	if !ok {
		t.Fatalf("recentActivity missing: %v", got.Metadata)
	}
	if len(recent) != 10 {
		t.Fatalf("activity log cap: got %d want 10", len(recent))
	}
}

func TestCleanupInactive_SparesDefaults(t *testing.T) {
	d := newDirectory()
	a := d.Create(agents.Spec{Name: "Bot", Role: "worker"})

	// Nothing is stale yet.
	if n := d.CleanupInactive(time.Hour); n != 0 {
		t.Fatalf("no agents should be swept, got %d", n)
	}

	// A zero threshold makes every record stale, but defaults are exempt.
	time.Sleep(2 * time.Millisecond)
	n := d.CleanupInactive(time.Millisecond)
	if n != 1 {
		t.Fatalf("swept: got %d want 1", n)
	}
	if got := d.Resolve(a.ID); got.Status != agents.StatusInactive {
		t.Fatalf("agent status: got %s want inactive", got.Status)
	}
	if got := d.Resolve("agent_reader"); got.Status != agents.StatusActive {
		t.Fatalf("default agent must be exempt from sweep")
	}
}

func TestClone_NoInteriorAliasing(t *testing.T) {
	d := newDirectory()
	a := d.Resolve("agent_writer")
	a.Permissions[0] = "mutated"
	if got := d.Resolve("agent_writer"); got.Permissions[0] == "mutated" {
		t.Fatalf("resolve must return a copy, store was mutated")
	}
}
