// Package command defines the Modular Command Protocol envelope and its
// validation rules. A command is the triple action:targetType:targetId
// plus optional parameters, rendered as JSON on the wire.
package command

import (
	"fmt"
	"time"
)

// Action is one of the fixed set of operations a command may request.
type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionExecute  Action = "execute"
	ActionReorder  Action = "reorder"
	ActionRename   Action = "rename"
	ActionStatus   Action = "status"
	ActionMarkDone Action = "mark_done"
	ActionRollback Action = "rollback"
	ActionPlan     Action = "plan"
	ActionTrain    Action = "train"
	ActionDeploy   Action = "deploy"
	ActionTest     Action = "test"
	ActionMonitor  Action = "monitor"
	ActionOptimize Action = "optimize"
	ActionDebug    Action = "debug"
	ActionLog      Action = "log"
)

// TargetType names the kind of entity a command operates on.
type TargetType string

const (
	TargetList     TargetType = "list"
	TargetItem     TargetType = "item"
	TargetAgent    TargetType = "agent"
	TargetSystem   TargetType = "system"
	TargetBatch    TargetType = "batch"
	TargetWorkflow TargetType = "workflow"
	TargetSession  TargetType = "session"
)

// Actions lists every known action.
func Actions() []Action {
	return []Action{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExecute,
		ActionReorder, ActionRename, ActionStatus, ActionMarkDone,
		ActionRollback, ActionPlan, ActionTrain, ActionDeploy, ActionTest,
		ActionMonitor, ActionOptimize, ActionDebug, ActionLog,
	}
}

// TargetTypes lists every known target type.
func TargetTypes() []TargetType {
	return []TargetType{
		TargetList, TargetItem, TargetAgent, TargetSystem,
		TargetBatch, TargetWorkflow, TargetSession,
	}
}

// Command is the untrusted envelope as received from the transport.
type Command struct {
	Action     Action         `json:"action"`
	TargetType TargetType     `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
}

// String renders the canonical text form of the envelope.
func (c Command) String() string {
	return fmt.Sprintf("%s:%s:%s", c.Action, c.TargetType, c.TargetID)
}

// Validated is a command that has passed every validator check.
// Construction happens only inside Validator.Validate.
type Validated struct {
	Command
	ReceivedAt time.Time
}

// Context carries caller-supplied execution metadata through the
// pipeline. It is never persisted beyond the request lifetime except as
// log metadata.
type Context struct {
	SessionID     string `json:"sessionId,omitempty"`
	AgentID       string `json:"agentId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
	IP            string `json:"ip,omitempty"`
}
