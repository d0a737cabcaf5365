package command_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskdeck/internal/apperr"
	"github.com/basket/taskdeck/internal/command"
)

func newValidator(t *testing.T) *command.Validator {
	t.Helper()
	v, err := command.NewValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func TestValidate_AcceptsWellFormedCommand(t *testing.T) {
	v := newValidator(t)
	cmd := command.Command{
		Action:     command.ActionCreate,
		TargetType: command.TargetList,
		TargetID:   "q4_plan",
		Parameters: map[string]any{"title": "Q4 Plan"},
	}
	validated, err := v.Validate(cmd)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.String() != "create:list:q4_plan" {
		t.Fatalf("canonical form: got %q", validated.String())
	}
	if validated.ReceivedAt.IsZero() {
		t.Fatalf("ReceivedAt must be stamped")
	}
}

func TestValidate_RejectsUnknownAction(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(command.Command{
		Action:     "explode",
		TargetType: command.TargetList,
		TargetID:   "a",
	})
	assertValidationError(t, err, "action")
}

func TestValidate_RejectsUnknownTargetType(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(command.Command{
		Action:     command.ActionRead,
		TargetType: "galaxy",
		TargetID:   "a",
	})
	assertValidationError(t, err, "targetType")
}

func TestValidate_RejectsEmptyAndOversizedTargetID(t *testing.T) {
	v := newValidator(t)
	if _, err := v.Validate(command.Command{Action: command.ActionRead, TargetType: command.TargetList}); err == nil {
		t.Fatalf("empty targetId must fail")
	}
	long := strings.Repeat("x", 256)
	if _, err := v.Validate(command.Command{Action: command.ActionRead, TargetType: command.TargetList, TargetID: long}); err == nil {
		t.Fatalf("256-char targetId must fail")
	}
}

func TestValidate_CompatibilityTable(t *testing.T) {
	v := newValidator(t)
	cases := []struct {
		action command.Action
		target command.TargetType
		id     string
		ok     bool
	}{
		{command.ActionMarkDone, command.TargetItem, "item-1", true},
		{command.ActionMarkDone, command.TargetList, "list-1", false},
		{command.ActionDeploy, command.TargetSystem, "system", true},
		{command.ActionDeploy, command.TargetList, "list-1", false},
		{command.ActionTrain, command.TargetWorkflow, "wf-1", true},
		{command.ActionTrain, command.TargetItem, "item-1", false},
	}
	for _, tc := range cases {
		cmd := command.Command{Action: tc.action, TargetType: tc.target, TargetID: tc.id}
		if tc.action == command.ActionCreate {
			cmd.Parameters = map[string]any{"title": "t"}
		}
		_, err := v.Validate(cmd)
		if tc.ok && err != nil {
			t.Fatalf("%s:%s should pass, got %v", tc.action, tc.target, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s:%s should fail", tc.action, tc.target)
			}
			msg := err.Error()
			if !strings.Contains(msg, string(tc.action)) || !strings.Contains(msg, string(tc.target)) {
				t.Fatalf("error must name action and target type: %q", msg)
			}
		}
	}
}

func TestValidate_TargetIDFormatPerType(t *testing.T) {
	v := newValidator(t)
	cases := []struct {
		target command.TargetType
		id     string
		ok     bool
	}{
		{command.TargetList, "my-list_1", true},
		{command.TargetList, "bad id!", false},
		{command.TargetAgent, "agent_writer", true},
		{command.TargetAgent, "system", true},
		{command.TargetAgent, "writer", false},
		{command.TargetSession, "session_abc-123", true},
		{command.TargetSession, "abc-123", true},
	}
	for _, tc := range cases {
		_, err := v.Validate(command.Command{Action: command.ActionRead, TargetType: tc.target, TargetID: tc.id})
		if tc.ok && err != nil {
			t.Fatalf("%s id %q should pass: %v", tc.target, tc.id, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s id %q should fail", tc.target, tc.id)
		}
	}
}

func TestValidate_Timestamp(t *testing.T) {
	v := newValidator(t)
	base := command.Command{Action: command.ActionRead, TargetType: command.TargetList, TargetID: "a"}

	cmd := base
	cmd.Timestamp = "not-a-date"
	if _, err := v.Validate(cmd); err == nil {
		t.Fatalf("garbage timestamp must fail")
	}

	cmd = base
	cmd.Timestamp = time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	if _, err := v.Validate(cmd); err == nil {
		t.Fatalf("far-future timestamp must fail")
	}

	cmd = base
	cmd.Timestamp = time.Now().Format(time.RFC3339)
	if _, err := v.Validate(cmd); err != nil {
		t.Fatalf("current timestamp should pass: %v", err)
	}
}

func TestValidate_ParameterSizeLimit(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(command.Command{
		Action:     command.ActionRead,
		TargetType: command.TargetList,
		TargetID:   "a",
		Parameters: map[string]any{"blob": strings.Repeat("x", 10001)},
	})
	assertValidationError(t, err, "parameters")
}

func TestValidate_CreateRules(t *testing.T) {
	v := newValidator(t)

	_, err := v.Validate(command.Command{
		Action:     command.ActionCreate,
		TargetType: command.TargetList,
		TargetID:   "l1",
	})
	assertValidationError(t, err, "parameters.title")

	_, err = v.Validate(command.Command{
		Action:     command.ActionCreate,
		TargetType: command.TargetItem,
		TargetID:   "i1",
		Parameters: map[string]any{"content": "do the thing"},
	})
	assertValidationError(t, err, "parameters.listId")

	_, err = v.Validate(command.Command{
		Action:     command.ActionCreate,
		TargetType: command.TargetItem,
		TargetID:   "i1",
		Parameters: map[string]any{"content": strings.Repeat("x", 1001), "listId": "l1"},
	})
	assertValidationError(t, err, "parameters.content")
}

func TestValidate_UpdateRequiresAField(t *testing.T) {
	v := newValidator(t)
	_, err := v.Validate(command.Command{
		Action:     command.ActionUpdate,
		TargetType: command.TargetList,
		TargetID:   "l1",
	})
	assertValidationError(t, err, "parameters")
}

func assertValidationError(t *testing.T, err error, field string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation failure for %s", field)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	if ae.Code != apperr.CodeValidation {
		t.Fatalf("code: got %s want %s", ae.Code, apperr.CodeValidation)
	}
	for _, violation := range ae.Violations {
		if violation.Field == field {
			return
		}
	}
	t.Fatalf("no violation for field %q in %+v", field, ae.Violations)
}
