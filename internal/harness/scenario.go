package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/daanvh/publicspace/internal/partition"
)

// Scenario defines one conformance scenario: inputs, rule table and
// expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario; it is also the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// AOI is the area of interest as WKT.
	AOI string `yaml:"aoi"`

	// RunToken is an optional fixed run token. Defaults to
	// "scenario-run" so golden snapshots stay stable.
	RunToken string `yaml:"run_token,omitempty"`

	// SliverRatio optionally overrides the engine default.
	SliverRatio float64 `yaml:"sliver_ratio,omitempty"`

	// AbortOnNoMatch switches the engine's no-match policy to abort.
	AbortOnNoMatch bool `yaml:"abort_on_no_match,omitempty"`

	// Layers maps layer ids to inline features.
	Layers map[string][]ScenarioFeature `yaml:"layers"`

	// Steps is the ordered rule table.
	Steps []ScenarioStep `yaml:"steps"`

	// Expect describes the outcome to assert.
	Expect ExpectClause `yaml:"expect"`
}

// ScenarioFeature is one inline source feature.
type ScenarioFeature struct {
	ID    string            `yaml:"id"`
	WKT   string            `yaml:"wkt"`
	Attrs map[string]string `yaml:"attrs,omitempty"`
}

// ScenarioStep is one rule-table step in YAML form. Exactly one of
// Assign or Map must be set, mirroring the CUE rule-table format.
type ScenarioStep struct {
	ID     int             `yaml:"id"`
	Name   string          `yaml:"name,omitempty"`
	Layer  string          `yaml:"layer"`
	Filter *ScenarioFilter `yaml:"filter,omitempty"`
	Assign string          `yaml:"assign,omitempty"`
	Map    *ScenarioMap    `yaml:"map,omitempty"`
}

// ScenarioFilter is an attribute filter in YAML form.
type ScenarioFilter struct {
	Attribute string   `yaml:"attribute"`
	Op        string   `yaml:"op"`
	Values    []string `yaml:"values,omitempty"`
}

// ScenarioMap is an attribute-driven category mapping in YAML form.
type ScenarioMap struct {
	Attribute string            `yaml:"attribute"`
	Values    map[string]string `yaml:"values"`
	Fallback  string            `yaml:"fallback,omitempty"`
}

// ExpectClause describes the expected outcome.
type ExpectClause struct {
	// Areas maps category names to expected areas. Missing categories
	// are not checked.
	Areas map[string]float64 `yaml:"areas,omitempty"`

	// Warnings lists warnings that must appear in the step reports.
	// Subset match: extra recorded warnings are fine.
	Warnings []ExpectedWarning `yaml:"warnings,omitempty"`

	// Error, when set, means the run must fail and the error text must
	// contain this substring.
	Error string `yaml:"error,omitempty"`
}

// ExpectedWarning identifies a warning by code, step and optionally
// feature.
type ExpectedWarning struct {
	Code      string `yaml:"code"`
	Step      int    `yaml:"step"`
	FeatureID string `yaml:"feature_id,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario yaml: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.AOI == "" {
		return fmt.Errorf("aoi is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if (step.Assign == "") == (step.Map == nil) {
			return fmt.Errorf("steps[%d]: exactly one of assign or map is required", i)
		}
	}
	if s.RunToken == "" {
		s.RunToken = "scenario-run"
	}
	return nil
}

// table converts the scenario's steps to a rule table.
func (s *Scenario) table() (partition.RuleTable, error) {
	var table partition.RuleTable
	for i, step := range s.Steps {
		compiled := partition.ClassificationStep{
			ID:    step.ID,
			Name:  step.Name,
			Layer: step.Layer,
		}

		if step.Filter == nil {
			compiled.Filter = partition.AttributeFilter{Op: partition.FilterAny}
		} else {
			op, err := filterOp(step.Filter.Op)
			if err != nil {
				return table, fmt.Errorf("steps[%d]: %w", i, err)
			}
			compiled.Filter = partition.AttributeFilter{
				Attribute: step.Filter.Attribute,
				Op:        op,
				Values:    step.Filter.Values,
			}
		}

		if step.Assign != "" {
			compiled.Mapping = partition.CategoryMapping{Fallback: partition.Category(step.Assign)}
		} else {
			values := make(map[string]partition.Category, len(step.Map.Values))
			for k, v := range step.Map.Values {
				values[k] = partition.Category(v)
			}
			compiled.Mapping = partition.CategoryMapping{
				Attribute: step.Map.Attribute,
				Values:    values,
				Fallback:  partition.Category(step.Map.Fallback),
			}
		}

		table.Steps = append(table.Steps, compiled)
	}
	return table, nil
}

func filterOp(name string) (partition.FilterOp, error) {
	switch name {
	case "", "any":
		return partition.FilterAny, nil
	case "equals":
		return partition.FilterEquals, nil
	case "not-equals":
		return partition.FilterNotEquals, nil
	case "in":
		return partition.FilterIn, nil
	case "not-in":
		return partition.FilterNotIn, nil
	default:
		return "", fmt.Errorf("unknown filter op %q", name)
	}
}
