package partition

import (
	"errors"
	"fmt"
)

// NoMatchError reports a feature whose attribute value has no entry in
// the step's category mapping. Never silently converted to unassigned:
// the caller either records a warning and skips the feature (default) or
// aborts the run, but a diagnostic is always produced.
type NoMatchError struct {
	StepID    int
	FeatureID string
	Attribute string
	Value     string
	Missing   bool // attribute absent entirely, rather than unmapped
}

func (e *NoMatchError) Error() string {
	if e.Missing {
		return fmt.Sprintf("step %d: feature %q has no attribute %q",
			e.StepID, e.FeatureID, e.Attribute)
	}
	return fmt.Sprintf("step %d: feature %q attribute %s=%q has no category mapping",
		e.StepID, e.FeatureID, e.Attribute, e.Value)
}

// IsNoMatch reports whether err is a NoMatchError, unwrapping as needed.
func IsNoMatch(err error) bool {
	var nm *NoMatchError
	return errors.As(err, &nm)
}

// Resolve maps a feature to its category using the step's mapping.
//
// Resolution order:
//  1. attribute-value lookup in Mapping.Values (when configured)
//  2. Mapping.Fallback (when configured)
//  3. NoMatchError
//
// Resolve is pure: same step and feature always yield the same outcome,
// which is what allows the executor to resolve features concurrently.
func Resolve(step ClassificationStep, feat SourceFeature) (Category, error) {
	m := step.Mapping

	if len(m.Values) > 0 {
		value, ok := feat.Attr(m.Attribute)
		if ok {
			if cat, mapped := m.Values[value]; mapped {
				return cat, nil
			}
			if m.Fallback != "" {
				return m.Fallback, nil
			}
			return "", &NoMatchError{
				StepID:    step.ID,
				FeatureID: feat.ID,
				Attribute: m.Attribute,
				Value:     value,
			}
		}
		if m.Fallback != "" {
			return m.Fallback, nil
		}
		return "", &NoMatchError{
			StepID:    step.ID,
			FeatureID: feat.ID,
			Attribute: m.Attribute,
			Missing:   true,
		}
	}

	return m.Fallback, nil
}
