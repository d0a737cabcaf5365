// Package policy evaluates permission rules against agents and
// sessions. Rules are additive: a command is authorized the moment any
// matching rule's requirements are satisfied.
package policy

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/session"
)

// ConditionKind tags the fixed set of rule predicates. Conditions are
// data, not closures, so rule sets stay serializable and testable.
type ConditionKind string

const (
	// ConditionNone matches unconditionally.
	ConditionNone ConditionKind = ""
	// ConditionOwner requires the command's sessionId/agentId to match
	// the calling agent or session.
	ConditionOwner ConditionKind = "owner"
	// ConditionActiveSession requires a live session on the call.
	ConditionActiveSession ConditionKind = "active_session"
	// ConditionBusinessHours restricts the rule to 08:00-18:00 UTC.
	ConditionBusinessHours ConditionKind = "business_hours"
)

var knownConditions = map[ConditionKind]struct{}{
	ConditionNone:          {},
	ConditionOwner:         {},
	ConditionActiveSession: {},
	ConditionBusinessHours: {},
}

// Rule grants an (action, targetType) pair to agents meeting its
// requirements.
type Rule struct {
	Action               command.Action     `yaml:"action"`
	TargetType           command.TargetType `yaml:"target_type"`
	RequiredPermissions  []string           `yaml:"required_permissions"`
	RequiredCapabilities []string           `yaml:"required_capabilities,omitempty"`
	Condition            ConditionKind      `yaml:"condition,omitempty"`
}

// RuleSet is the serializable policy document.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Default returns the built-in rule set used when no policy file is
// configured.
func Default() RuleSet {
	readRules := func(target command.TargetType, capability string) []Rule {
		return []Rule{
			{Action: command.ActionRead, TargetType: target, RequiredPermissions: []string{"read"}, RequiredCapabilities: []string{capability}},
			{Action: command.ActionStatus, TargetType: target, RequiredPermissions: []string{"read"}},
		}
	}
	rules := []Rule{
		{Action: command.ActionCreate, TargetType: command.TargetList, RequiredPermissions: []string{"write"}, RequiredCapabilities: []string{"create_lists"}},
		{Action: command.ActionUpdate, TargetType: command.TargetList, RequiredPermissions: []string{"write"}},
		{Action: command.ActionRename, TargetType: command.TargetList, RequiredPermissions: []string{"write"}},
		{Action: command.ActionReorder, TargetType: command.TargetList, RequiredPermissions: []string{"write"}},
		{Action: command.ActionDelete, TargetType: command.TargetList, RequiredPermissions: []string{"write", "delete"}},

		{Action: command.ActionCreate, TargetType: command.TargetItem, RequiredPermissions: []string{"write"}, RequiredCapabilities: []string{"create_items"}},
		{Action: command.ActionUpdate, TargetType: command.TargetItem, RequiredPermissions: []string{"write"}, RequiredCapabilities: []string{"update_items"}},
		{Action: command.ActionMarkDone, TargetType: command.TargetItem, RequiredPermissions: []string{"write"}, RequiredCapabilities: []string{"update_items"}},
		{Action: command.ActionReorder, TargetType: command.TargetItem, RequiredPermissions: []string{"write"}},
		{Action: command.ActionDelete, TargetType: command.TargetItem, RequiredPermissions: []string{"write", "delete"}},

		{Action: command.ActionExecute, TargetType: command.TargetWorkflow, RequiredPermissions: []string{"execute"}, RequiredCapabilities: []string{"execute_workflows"}},
		{Action: command.ActionPlan, TargetType: command.TargetWorkflow, RequiredPermissions: []string{"execute"}, RequiredCapabilities: []string{"execute_workflows"}},
		{Action: command.ActionRollback, TargetType: command.TargetWorkflow, RequiredPermissions: []string{"execute", "write"}, RequiredCapabilities: []string{"execute_workflows"}},

		{Action: command.ActionRead, TargetType: command.TargetSession, RequiredPermissions: []string{"read"}, Condition: ConditionOwner},
		{Action: command.ActionDelete, TargetType: command.TargetSession, RequiredPermissions: []string{"write"}, Condition: ConditionOwner},
		{Action: command.ActionUpdate, TargetType: command.TargetSession, RequiredPermissions: []string{"write"}, Condition: ConditionOwner},

		{Action: command.ActionExecute, TargetType: command.TargetBatch, RequiredPermissions: []string{"execute"}},
		{Action: command.ActionStatus, TargetType: command.TargetBatch, RequiredPermissions: []string{"read"}},

		{Action: command.ActionStatus, TargetType: command.TargetSystem, RequiredPermissions: []string{"read"}},
		{Action: command.ActionMonitor, TargetType: command.TargetSystem, RequiredPermissions: []string{"read"}, Condition: ConditionActiveSession},
		{Action: command.ActionLog, TargetType: command.TargetSystem, RequiredPermissions: []string{"read"}},
	}
	rules = append(rules, readRules(command.TargetList, "read_lists")...)
	rules = append(rules, readRules(command.TargetItem, "read_items")...)
	rules = append(rules, readRules(command.TargetWorkflow, "read_lists")...)
	return RuleSet{Rules: rules}
}

// Load reads a rule set from a YAML file. A missing or empty file
// yields the default rule set.
func Load(path string) (RuleSet, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return RuleSet{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := rs.validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

func (rs RuleSet) validate() error {
	for i, rule := range rs.Rules {
		if !actionKnown(rule.Action) {
			return fmt.Errorf("rule %d: unknown action %q", i, rule.Action)
		}
		if !targetKnown(rule.TargetType) {
			return fmt.Errorf("rule %d: unknown target type %q", i, rule.TargetType)
		}
		kind := ConditionKind(strings.ToLower(strings.TrimSpace(string(rule.Condition))))
		if _, ok := knownConditions[kind]; !ok {
			return fmt.Errorf("rule %d: unknown condition %q", i, rule.Condition)
		}
	}
	return nil
}

func actionKnown(a command.Action) bool {
	for _, known := range command.Actions() {
		if known == a {
			return true
		}
	}
	return false
}

func targetKnown(t command.TargetType) bool {
	for _, known := range command.TargetTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// evalCondition evaluates a tagged predicate against the call.
func evalCondition(kind ConditionKind, cmd command.Command, agent *agents.Agent, sess *session.Session, now time.Time) bool {
	switch kind {
	case ConditionNone:
		return true
	case ConditionOwner:
		if agent != nil && cmd.AgentID != "" && cmd.AgentID == agent.ID {
			return true
		}
		if sess != nil && cmd.SessionID != "" && cmd.SessionID == sess.ID {
			return true
		}
		// Session-target commands name the session as targetId.
		if sess != nil && cmd.TargetType == command.TargetSession && cmd.TargetID == sess.ID {
			return true
		}
		return false
	case ConditionActiveSession:
		return sess != nil && sess.Status == session.StatusActive
	case ConditionBusinessHours:
		h := now.UTC().Hour()
		return h >= 8 && h < 18
	default:
		return false
	}
}

// LiveRules wraps a RuleSet with thread-safe replacement for hot
// reload from the policy file watcher.
type LiveRules struct {
	mu   sync.RWMutex
	data RuleSet
}

// NewLiveRules creates a LiveRules from an initial snapshot.
func NewLiveRules(initial RuleSet) *LiveRules {
	return &LiveRules{data: initial}
}

// Snapshot returns a copy of the current rule set.
func (lr *LiveRules) Snapshot() RuleSet {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	cp := RuleSet{Rules: make([]Rule, len(lr.data.Rules))}
	copy(cp.Rules, lr.data.Rules)
	return cp
}

// Reload replaces the rule set.
func (lr *LiveRules) Reload(rs RuleSet) {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	lr.data = rs
}

// ReloadFromFile replaces the live rules only when the incoming file
// parses and validates; the previous rules stay active on error.
func ReloadFromFile(lr *LiveRules, path string) error {
	if lr == nil {
		return fmt.Errorf("nil live rules")
	}
	rs, err := Load(path)
	if err != nil {
		return err
	}
	lr.Reload(rs)
	return nil
}
