package policy

import (
	"slices"
	"time"

	"github.com/basket/taskdeck/internal/agents"
	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
	"github.com/basket/taskdeck/internal/session"
	"github.com/basket/taskdeck/internal/shared"
)

// Engine authorizes validated commands against the live rule set.
type Engine struct {
	rules *LiveRules
	now   func() time.Time
}

// NewEngine builds an engine over a live rule set.
func NewEngine(rules *LiveRules) *Engine {
	return &Engine{
		rules: rules,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Authorize returns nil when the agent may run the command, or a
// PERMISSION_ERROR naming the agent and the denied action/target.
//
// The system agent always passes. When no rule matches the
// (action, targetType) pair, only admin holders are authorized.
// Otherwise the command is authorized the moment any matching rule's
// permissions, capabilities, and condition are all satisfied.
func (e *Engine) Authorize(cmd command.Command, agent *agents.Agent, sess *session.Session) error {
	if agent == nil {
		return apperr.Permission("no agent identity for command %s", cmd.String())
	}
	if agent.ID == shared.SystemAgentID {
		return nil
	}

	candidates := e.matching(cmd.Action, cmd.TargetType)
	if len(candidates) == 0 {
		if slices.Contains(agent.Permissions, agents.AdminPermission) {
			return nil
		}
		return apperr.Permission("agent %q is not permitted to %s (no rule grants %s on %s)",
			agent.ID, cmd.String(), cmd.Action, cmd.TargetType)
	}

	for _, rule := range candidates {
		if e.ruleSatisfied(rule, cmd, agent, sess) {
			return nil
		}
	}
	return apperr.Permission("agent %q is not permitted to %s on %s targets",
		agent.ID, cmd.Action, cmd.TargetType)
}

func (e *Engine) ruleSatisfied(rule Rule, cmd command.Command, agent *agents.Agent, sess *session.Session) bool {
	if !agents.ValidatePermissions(agent, rule.RequiredPermissions) {
		return false
	}
	isAdmin := slices.Contains(agent.Permissions, agents.AdminPermission)
	if !isAdmin {
		for _, capability := range rule.RequiredCapabilities {
			if !agents.ValidateCapability(agent, capability) {
				return false
			}
		}
	}
	return evalCondition(rule.Condition, cmd, agent, sess, e.now())
}

func (e *Engine) matching(action command.Action, target command.TargetType) []Rule {
	snapshot := e.rules.Snapshot()
	var out []Rule
	for _, rule := range snapshot.Rules {
		if rule.Action == action && rule.TargetType == target {
			out = append(out, rule)
		}
	}
	return out
}

// Allowed is one action/target pair an agent could perform.
type Allowed struct {
	Action     command.Action     `json:"action"`
	TargetType command.TargetType `json:"targetType"`
}

// AllowedActions dry-runs every rule with a placeholder target id and
// reports the pairs the agent could perform. Used for capability
// discovery, never for enforcement.
func (e *Engine) AllowedActions(agent *agents.Agent) []Allowed {
	if agent == nil {
		return nil
	}
	snapshot := e.rules.Snapshot()
	seen := make(map[Allowed]struct{})
	var out []Allowed
	for _, rule := range snapshot.Rules {
		probe := command.Command{
			Action:     rule.Action,
			TargetType: rule.TargetType,
			TargetID:   "placeholder",
			AgentID:    agent.ID,
		}
		if e.Authorize(probe, agent, nil) != nil {
			continue
		}
		pair := Allowed{Action: rule.Action, TargetType: rule.TargetType}
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		out = append(out, pair)
	}
	return out
}
