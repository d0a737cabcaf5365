// Package agents owns the in-process catalog of agent identities. The
// directory is the only mutator of agent records; every read hands out
// a deep copy so concurrent handlers never share interior state.
package agents

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/taskdeck/internal/shared"
)

// Status is an agent lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// AdminPermission short-circuits every permission check.
const AdminPermission = "admin"

// AllCapability is the sentinel granting every capability.
const AllCapability = "all"

const maxRecentActivity = 10

// Agent is one identity allowed to issue commands.
type Agent struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Role         string         `json:"role"`
	Status       Status         `json:"status"`
	Permissions  []string       `json:"permissions"`
	Capabilities []string       `json:"capabilities"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    *time.Time     `json:"updatedAt,omitempty"`
	LastActivity time.Time      `json:"lastActivity"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (a *Agent) clone() *Agent {
	cp := *a
	cp.Permissions = slices.Clone(a.Permissions)
	cp.Capabilities = slices.Clone(a.Capabilities)
	if a.UpdatedAt != nil {
		t := *a.UpdatedAt
		cp.UpdatedAt = &t
	}
	if a.Metadata != nil {
		cp.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Spec describes a new agent.
type Spec struct {
	Name         string
	Role         string
	Permissions  []string
	Capabilities []string
	Metadata     map[string]any
}

// Partial is a field-wise update; nil fields are left untouched. The
// id is immutable and cannot be changed through an update.
type Partial struct {
	Name         *string
	Role         *string
	Status       *Status
	Permissions  []string
	Capabilities []string
	Metadata     map[string]any
}

// Filter narrows List results. Offset is applied before Limit.
type Filter struct {
	Role   string
	Status Status
	Limit  int
	Offset int
}

// Options configures directory construction.
type Options struct {
	// SeedAnonymous adds a minimal-permission "anonymous" agent used as
	// the fallback identity when the router allows unauthenticated
	// callers.
	SeedAnonymous bool
	Logger        *slog.Logger
}

// Directory is the process-wide agent store.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	logger *slog.Logger
	// seeded ids are exempt from the inactivity sweep.
	defaults map[string]struct{}
}

// NewDirectory builds a directory seeded with the system agent and the
// default reader/writer/executor agents.
func NewDirectory(opts Options) *Directory {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		agents:   make(map[string]*Agent),
		defaults: make(map[string]struct{}),
		logger:   logger,
	}
	d.seed(opts.SeedAnonymous)
	return d
}

func (d *Directory) seed(anonymous bool) {
	now := time.Now().UTC()
	seeds := []*Agent{
		{
			ID:           shared.SystemAgentID,
			Name:         "System",
			Role:         "system",
			Status:       StatusActive,
			Permissions:  []string{AdminPermission},
			Capabilities: []string{AllCapability},
		},
		{
			ID:           "agent_reader",
			Name:         "Reader",
			Role:         "reader",
			Status:       StatusActive,
			Permissions:  []string{"read"},
			Capabilities: []string{"read_lists", "read_items"},
		},
		{
			ID:           "agent_writer",
			Name:         "Writer",
			Role:         "writer",
			Status:       StatusActive,
			Permissions:  []string{"read", "write"},
			Capabilities: []string{"read_lists", "read_items", "create_lists", "create_items", "update_items"},
		},
		{
			ID:           "agent_executor",
			Name:         "Executor",
			Role:         "executor",
			Status:       StatusActive,
			Permissions:  []string{"read", "execute"},
			Capabilities: []string{"read_lists", "execute_workflows"},
		},
	}
	if anonymous {
		seeds = append(seeds, &Agent{
			ID:           shared.AnonymousAgentID,
			Name:         "Anonymous",
			Role:         "anonymous",
			Status:       StatusActive,
			Permissions:  []string{"read"},
			Capabilities: []string{"read_lists"},
		})
	}
	for _, a := range seeds {
		a.CreatedAt = now
		a.LastActivity = now
		d.agents[a.ID] = a
		d.defaults[a.ID] = struct{}{}
	}
}

// Resolve returns the agent record for id, touching lastActivity.
// Returns nil when no such agent exists.
func (d *Directory) Resolve(id string) *Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return nil
	}
	a.LastActivity = time.Now().UTC()
	return a.clone()
}

// Create registers a new agent with a generated id.
func (d *Directory) Create(spec Spec) *Agent {
	now := time.Now().UTC()
	a := &Agent{
		ID:           "agent_" + uuid.NewString(),
		Name:         spec.Name,
		Role:         spec.Role,
		Status:       StatusActive,
		Permissions:  slices.Clone(spec.Permissions),
		Capabilities: slices.Clone(spec.Capabilities),
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     spec.Metadata,
	}
	if a.Permissions == nil {
		a.Permissions = []string{}
	}
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}

	d.mu.Lock()
	d.agents[a.ID] = a
	d.mu.Unlock()

	d.logger.Info("agent created", "agent_id", a.ID, "role", a.Role)
	return a.clone()
}

// Update merges partial into the stored record. The id is preserved
// regardless of the partial's contents. Returns nil when absent.
func (d *Directory) Update(id string, partial Partial) *Agent {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return nil
	}
	if partial.Name != nil {
		a.Name = *partial.Name
	}
	if partial.Role != nil {
		a.Role = *partial.Role
	}
	if partial.Status != nil {
		a.Status = *partial.Status
	}
	if partial.Permissions != nil {
		a.Permissions = slices.Clone(partial.Permissions)
	}
	if partial.Capabilities != nil {
		a.Capabilities = slices.Clone(partial.Capabilities)
	}
	if partial.Metadata != nil {
		if a.Metadata == nil {
			a.Metadata = make(map[string]any, len(partial.Metadata))
		}
		for k, v := range partial.Metadata {
			a.Metadata[k] = v
		}
	}
	now := time.Now().UTC()
	a.UpdatedAt = &now
	return a.clone()
}

// Delete removes an agent. The system agent is never removable.
func (d *Directory) Delete(id string) bool {
	if id == shared.SystemAgentID {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.agents[id]; !ok {
		return false
	}
	delete(d.agents, id)
	return true
}

// List returns agents matching the filter, offset applied before limit.
func (d *Directory) List(filter Filter) []*Agent {
	d.mu.RLock()
	matched := make([]*Agent, 0, len(d.agents))
	for _, a := range d.agents {
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		matched = append(matched, a.clone())
	}
	d.mu.RUnlock()

	slices.SortFunc(matched, func(x, y *Agent) int {
		if x.CreatedAt.Equal(y.CreatedAt) {
			return compareStrings(x.ID, y.ID)
		}
		if x.CreatedAt.Before(y.CreatedAt) {
			return -1
		}
		return 1
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Agent{}
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ValidatePermissions reports whether agent holds every required
// permission. The system agent and admin holders always pass.
func ValidatePermissions(agent *Agent, required []string) bool {
	if agent == nil {
		return false
	}
	if agent.ID == shared.SystemAgentID {
		return true
	}
	if slices.Contains(agent.Permissions, AdminPermission) {
		return true
	}
	for _, perm := range required {
		if !slices.Contains(agent.Permissions, perm) {
			return false
		}
	}
	return true
}

// ValidateCapability reports whether agent holds the capability. The
// system agent and the "all" sentinel always pass.
func ValidateCapability(agent *Agent, capability string) bool {
	if agent == nil {
		return false
	}
	if agent.ID == shared.SystemAgentID {
		return true
	}
	return slices.Contains(agent.Capabilities, capability) ||
		slices.Contains(agent.Capabilities, AllCapability)
}

// RecordActivity appends to the agent's capped most-recent-first
// activity log and refreshes lastActivity.
func (d *Directory) RecordActivity(id, activity string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[id]
	if !ok {
		return
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	entry := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), activity)
	recent, _ := a.Metadata["recentActivity"].([]string)
	recent = append([]string{entry}, recent...)
	if len(recent) > maxRecentActivity {
		recent = recent[:maxRecentActivity]
	}
	a.Metadata["recentActivity"] = recent
	a.LastActivity = time.Now().UTC()
}

// CleanupInactive transitions active non-default agents whose last
// activity predates the threshold to inactive. Returns the count
// changed.
func (d *Directory) CleanupInactive(threshold time.Duration) int {
	cutoff := time.Now().UTC().Add(-threshold)

	d.mu.Lock()
	defer d.mu.Unlock()
	changed := 0
	for id, a := range d.agents {
		if _, isDefault := d.defaults[id]; isDefault {
			continue
		}
		if a.Status == StatusActive && a.LastActivity.Before(cutoff) {
			a.Status = StatusInactive
			changed++
		}
	}
	if changed > 0 {
		d.logger.Info("inactive agents swept", "count", changed)
	}
	return changed
}
