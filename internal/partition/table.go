package partition

import (
	"fmt"
)

// StepOrderError reports a rule table whose step ids are duplicated or
// non-monotonic. It is fatal at load time, before any step runs:
// reordering two steps can change the final classification of any area
// they both cover, so a table with ambiguous order must never execute.
type StepOrderError struct {
	Index   int // position in the Steps slice
	StepID  int
	PrevID  int
	Message string
}

func (e *StepOrderError) Error() string {
	return fmt.Sprintf("step order violation at position %d (step id %d, previous %d): %s",
		e.Index, e.StepID, e.PrevID, e.Message)
}

// Validate checks the table's structural invariants.
//
// Checks, in order:
//   - step ids strictly increasing (StepOrderError otherwise)
//   - every step names a source layer
//   - filter ops are known, and value arity matches the op
//   - every mapping can resolve at least one category, and all mapped
//     categories are assignable (never "unassigned")
func (t RuleTable) Validate() error {
	prev := -1
	for i, step := range t.Steps {
		if step.ID <= prev {
			msg := "ids must be strictly increasing"
			if step.ID == prev {
				msg = "duplicate step id"
			}
			return &StepOrderError{Index: i, StepID: step.ID, PrevID: prev, Message: msg}
		}
		prev = step.ID

		if step.Layer == "" {
			return fmt.Errorf("step %d: source layer is required", step.ID)
		}
		if err := step.Filter.validate(); err != nil {
			return fmt.Errorf("step %d: %w", step.ID, err)
		}
		if err := step.Mapping.validate(); err != nil {
			return fmt.Errorf("step %d: %w", step.ID, err)
		}
	}
	return nil
}

func (f AttributeFilter) validate() error {
	switch f.Op {
	case FilterAny:
		return nil
	case FilterEquals, FilterNotEquals:
		if f.Attribute == "" {
			return fmt.Errorf("filter op %q requires an attribute", f.Op)
		}
		if len(f.Values) != 1 {
			return fmt.Errorf("filter op %q requires exactly one value, got %d", f.Op, len(f.Values))
		}
		return nil
	case FilterIn, FilterNotIn:
		if f.Attribute == "" {
			return fmt.Errorf("filter op %q requires an attribute", f.Op)
		}
		if len(f.Values) == 0 {
			return fmt.Errorf("filter op %q requires at least one value", f.Op)
		}
		return nil
	case "":
		return fmt.Errorf("filter op is required (use %q to match all features)", FilterAny)
	default:
		return fmt.Errorf("unknown filter op %q", f.Op)
	}
}

func (m CategoryMapping) validate() error {
	if len(m.Values) == 0 && m.Fallback == "" {
		return fmt.Errorf("mapping must set a fallback category, attribute values, or both")
	}
	if len(m.Values) > 0 && m.Attribute == "" {
		return fmt.Errorf("value mapping requires an attribute name")
	}
	for v, c := range m.Values {
		if !c.Assignable() {
			return fmt.Errorf("mapping value %q: category %q is not assignable", v, c)
		}
	}
	if m.Fallback != "" && !m.Fallback.Assignable() {
		return fmt.Errorf("fallback category %q is not assignable", m.Fallback)
	}
	return nil
}

// StepByID returns the step with the given id, if present.
func (t RuleTable) StepByID(id int) (ClassificationStep, bool) {
	for _, s := range t.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return ClassificationStep{}, false
}
