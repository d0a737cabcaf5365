package command

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/taskdeck/internal/apperr"
)

const (
	maxTargetIDLen   = 255
	maxParameterLen  = 10000
	maxTitleLen      = 255
	maxContentLen    = 1000
	maxFutureSkew    = 24 * time.Hour
	schemaResourceID = "command.json"
)

// compatibility maps each target type to the actions it accepts. Any
// pair absent from this table fails validation before permission checks
// or dispatch can run.
var compatibility = map[TargetType][]Action{
	TargetList:     {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionReorder, ActionRename, ActionStatus},
	TargetItem:     {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionMarkDone, ActionReorder, ActionStatus},
	TargetAgent:    {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExecute, ActionStatus},
	TargetSystem:   {ActionStatus, ActionDeploy, ActionRollback, ActionMonitor, ActionOptimize, ActionDebug, ActionLog, ActionTest},
	TargetBatch:    {ActionExecute, ActionStatus},
	TargetWorkflow: {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExecute, ActionPlan, ActionRollback, ActionTrain, ActionTest, ActionMonitor, ActionOptimize, ActionDebug, ActionStatus},
	TargetSession:  {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionStatus},
}

// targetIDFormats keys the accepted targetId shape by target type.
var targetIDFormats = map[TargetType]*regexp.Regexp{
	TargetList:     regexp.MustCompile(`^[A-Za-z0-9_-]+$`),
	TargetItem:     regexp.MustCompile(`^[A-Za-z0-9_-]+$`),
	TargetAgent:    regexp.MustCompile(`^(agent_[A-Za-z0-9_-]+|system)$`),
	TargetSystem:   regexp.MustCompile(`^[A-Za-z0-9_-]+$`),
	TargetBatch:    regexp.MustCompile(`^[A-Za-z0-9_-]+$`),
	TargetWorkflow: regexp.MustCompile(`^[A-Za-z0-9_-]+$`),
	TargetSession:  regexp.MustCompile(`^(session_)?[A-Za-z0-9_-]+$`),
}

// Validator performs syntactic and business-rule validation of raw
// command envelopes. The envelope schema is compiled once at
// construction; Validate is safe for concurrent use.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the envelope schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema()))
	if err != nil {
		return nil, fmt.Errorf("unmarshal command schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResourceID, doc); err != nil {
		return nil, fmt.Errorf("add command schema resource: %w", err)
	}
	schema, err := c.Compile(schemaResourceID)
	if err != nil {
		return nil, fmt.Errorf("compile command schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

func envelopeSchema() string {
	actions := make([]string, 0, len(Actions()))
	for _, a := range Actions() {
		actions = append(actions, string(a))
	}
	targets := make([]string, 0, len(TargetTypes()))
	for _, t := range TargetTypes() {
		targets = append(targets, string(t))
	}
	schema := map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]any{
			"action":     map[string]any{"type": "string", "enum": actions},
			"targetType": map[string]any{"type": "string", "enum": targets},
			"targetId":   map[string]any{"type": "string", "minLength": 1, "maxLength": maxTargetIDLen},
			"parameters": map[string]any{"type": "object"},
			"timestamp":  map[string]any{"type": "string"},
			"sessionId":  map[string]any{"type": "string"},
			"agentId":    map[string]any{"type": "string"},
		},
		"required": []string{"action", "targetType", "targetId"},
	}
	out, _ := json.Marshal(schema)
	return string(out)
}

// Validate runs the full check sequence: schema, action/target
// compatibility, targetId format, timestamp sanity, parameter rules.
// On failure it returns a single *apperr.Error with field violations.
func (v *Validator) Validate(cmd Command) (*Validated, error) {
	if err := v.checkSchema(cmd); err != nil {
		return nil, err
	}

	var violations []apperr.Violation

	if !actionAllowed(cmd.Action, cmd.TargetType) {
		return nil, apperr.Validation(
			fmt.Sprintf("action %q is not valid for target type %q", cmd.Action, cmd.TargetType),
			apperr.Violation{Field: "action", Message: fmt.Sprintf("%s is not applicable to %s targets", cmd.Action, cmd.TargetType)},
		)
	}

	if format, ok := targetIDFormats[cmd.TargetType]; ok && !format.MatchString(cmd.TargetID) {
		violations = append(violations, apperr.Violation{
			Field:   "targetId",
			Message: fmt.Sprintf("%q does not match the id format for target type %s", cmd.TargetID, cmd.TargetType),
		})
	}

	if cmd.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, cmd.Timestamp)
		if err != nil {
			violations = append(violations, apperr.Violation{Field: "timestamp", Message: "must be a valid RFC3339 timestamp"})
		} else if ts.After(time.Now().Add(maxFutureSkew)) {
			violations = append(violations, apperr.Violation{Field: "timestamp", Message: "must not be more than 24 hours in the future"})
		}
	}

	violations = append(violations, checkParameters(cmd)...)

	if len(violations) > 0 {
		return nil, apperr.Validation("command failed validation", violations...)
	}
	return &Validated{Command: cmd, ReceivedAt: time.Now().UTC()}, nil
}

func (v *Validator) checkSchema(cmd Command) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return apperr.Validation("command is not serializable")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return apperr.Validation("command is not valid JSON")
	}
	if err := v.schema.Validate(doc); err != nil {
		return apperr.Validation(
			fmt.Sprintf("command envelope is malformed: %v", err),
			schemaViolations(cmd)...,
		)
	}
	return nil
}

// schemaViolations derives readable field errors for the common schema
// failures; the jsonschema error text alone is too opaque for callers.
func schemaViolations(cmd Command) []apperr.Violation {
	var out []apperr.Violation
	if !actionKnown(cmd.Action) {
		out = append(out, apperr.Violation{Field: "action", Message: fmt.Sprintf("unknown action %q", cmd.Action)})
	}
	if !targetTypeKnown(cmd.TargetType) {
		out = append(out, apperr.Violation{Field: "targetType", Message: fmt.Sprintf("unknown target type %q", cmd.TargetType)})
	}
	if cmd.TargetID == "" {
		out = append(out, apperr.Violation{Field: "targetId", Message: "must not be empty"})
	} else if len(cmd.TargetID) > maxTargetIDLen {
		out = append(out, apperr.Violation{Field: "targetId", Message: fmt.Sprintf("must not exceed %d characters", maxTargetIDLen)})
	}
	return out
}

func checkParameters(cmd Command) []apperr.Violation {
	var out []apperr.Violation

	if cmd.Parameters != nil {
		serialized, err := json.Marshal(cmd.Parameters)
		if err != nil {
			return []apperr.Violation{{Field: "parameters", Message: "must be serializable"}}
		}
		if len(serialized) > maxParameterLen {
			out = append(out, apperr.Violation{
				Field:   "parameters",
				Message: fmt.Sprintf("serialized size %d exceeds limit %d", len(serialized), maxParameterLen),
			})
		}
	}

	switch cmd.Action {
	case ActionCreate:
		out = append(out, checkCreateParameters(cmd)...)
	case ActionUpdate:
		if len(cmd.Parameters) == 0 {
			out = append(out, apperr.Violation{Field: "parameters", Message: "update requires at least one field"})
		}
	}
	return out
}

func checkCreateParameters(cmd Command) []apperr.Violation {
	var out []apperr.Violation
	switch cmd.TargetType {
	case TargetList:
		title, _ := cmd.Parameters["title"].(string)
		if strings.TrimSpace(title) == "" {
			out = append(out, apperr.Violation{Field: "parameters.title", Message: "list creation requires a non-empty title"})
		} else if len(title) > maxTitleLen {
			out = append(out, apperr.Violation{Field: "parameters.title", Message: fmt.Sprintf("must not exceed %d characters", maxTitleLen)})
		}
	case TargetItem:
		content, _ := cmd.Parameters["content"].(string)
		if strings.TrimSpace(content) == "" {
			out = append(out, apperr.Violation{Field: "parameters.content", Message: "item creation requires non-empty content"})
		} else if len(content) > maxContentLen {
			out = append(out, apperr.Violation{Field: "parameters.content", Message: fmt.Sprintf("must not exceed %d characters", maxContentLen)})
		}
		if listID, _ := cmd.Parameters["listId"].(string); strings.TrimSpace(listID) == "" {
			out = append(out, apperr.Violation{Field: "parameters.listId", Message: "item creation requires a listId"})
		}
	}
	return out
}

func actionAllowed(action Action, target TargetType) bool {
	for _, a := range compatibility[target] {
		if a == action {
			return true
		}
	}
	return false
}

func actionKnown(a Action) bool {
	for _, known := range Actions() {
		if known == a {
			return true
		}
	}
	return false
}

func targetTypeKnown(t TargetType) bool {
	for _, known := range TargetTypes() {
		if known == t {
			return true
		}
	}
	return false
}
