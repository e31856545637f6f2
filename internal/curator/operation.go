package curator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/playbook"
)

// ErrInvalidOperation is returned by Operation.Validate.
var ErrInvalidOperation = errors.New("invalid curator operation")

// OpType is the kind of delta.
type OpType string

const (
	OpAdd    OpType = "ADD"
	OpUpdate OpType = "UPDATE"
	OpDelete OpType = "DELETE"
)

// Field is a counter an UPDATE may increment.
type Field string

const (
	FieldHelpful    Field = "helpful"
	FieldHarmful    Field = "harmful"
	FieldUsageCount Field = "usage_count"
)

// Operation is one delta against the playbook. ID is optional for ADD and
// is validated against the section's id format when applied.
type Operation struct {
	Type      OpType           `json:"type"`
	Section   playbook.Section `json:"section"`
	ID        string           `json:"id,omitempty"`
	Content   string           `json:"content,omitempty"`
	Field     Field            `json:"field,omitempty"`
	Increment int              `json:"increment,omitempty"`
}

// normalize canonicalizes case and whitespace of model-produced fields.
func (op Operation) normalize() Operation {
	op.Type = OpType(strings.ToUpper(strings.TrimSpace(string(op.Type))))
	op.Section = playbook.Section(strings.TrimSpace(string(op.Section)))
	op.ID = strings.TrimSpace(op.ID)
	op.Field = Field(strings.ToLower(strings.TrimSpace(string(op.Field))))
	return op
}

// Validate checks the operation is well formed.
func (op Operation) Validate() error {
	if _, err := playbook.Spec(op.Section); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	switch op.Type {
	case OpAdd:
		if strings.TrimSpace(op.Content) == "" {
			return fmt.Errorf("%w: ADD requires content", ErrInvalidOperation)
		}
	case OpUpdate:
		if op.ID == "" {
			return fmt.Errorf("%w: UPDATE requires id", ErrInvalidOperation)
		}
		switch op.Field {
		case FieldHelpful, FieldHarmful, FieldUsageCount:
		default:
			return fmt.Errorf("%w: UPDATE field %q", ErrInvalidOperation, op.Field)
		}
		if op.Increment < 0 {
			return fmt.Errorf("%w: counters cannot decrease", ErrInvalidOperation)
		}
	case OpDelete:
		if op.ID == "" {
			return fmt.Errorf("%w: DELETE requires id", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidOperation, op.Type)
	}
	return nil
}

// increment returns the UPDATE amount, defaulting to 1.
func (op Operation) increment() int {
	if op.Increment == 0 {
		return 1
	}
	return op.Increment
}

// Status is the outcome of a proposal request.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusEmpty    Status = "empty"
	StatusDegraded Status = "degraded"
)

// Proposal carries operations together with the model's reasoning.
type Proposal struct {
	Operations []Operation `json:"operations"`
	Reasoning  string      `json:"reasoning,omitempty"`
	Status     Status      `json:"status"`
}

// Empty reports whether there is nothing to apply.
func (p Proposal) Empty() bool {
	return len(p.Operations) == 0
}

// Action describes what applying one operation did.
type Action string

const (
	ActionAdded      Action = "added"
	ActionMerged     Action = "merged"
	ActionReinforced Action = "reinforced"
	ActionUpdated    Action = "updated"
	ActionDeleted    Action = "deleted"
	ActionSkipped    Action = "skipped"
)

// Applied records the effect of one operation. ID is the id actually
// assigned or touched.
type Applied struct {
	Type    OpType           `json:"type"`
	Section playbook.Section `json:"section"`
	ID      string           `json:"id,omitempty"`
	Content string           `json:"content,omitempty"`
	Action  Action           `json:"action"`
	Reason  string           `json:"reason,omitempty"`
}

// ApplyReport is the result of one ApplyOperations batch.
type ApplyReport struct {
	Applied  []Applied          `json:"applied"`
	Playbook *playbook.Playbook `json:"-"`
}

// RulesAdded returns the ADD operations that added, merged or reinforced a
// rule.
func (r ApplyReport) RulesAdded() []Applied {
	var out []Applied
	for _, a := range r.Applied {
		if a.Type != OpAdd {
			continue
		}
		switch a.Action {
		case ActionAdded, ActionMerged, ActionReinforced:
			out = append(out, a)
		}
	}
	return out
}

// Count returns how many operations ended with action.
func (r ApplyReport) Count(action Action) int {
	n := 0
	for _, a := range r.Applied {
		if a.Action == action {
			n++
		}
	}
	return n
}
