package harness

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/daanvh/publicspace/internal/partition"
)

// RunSnapshot is the golden-file representation of a scenario run. Areas
// are rounded so snapshots stay byte-stable across platforms; field order
// is fixed by the struct definitions.
type RunSnapshot struct {
	ScenarioName   string         `json:"scenario_name"`
	RunToken       string         `json:"run_token"`
	PublicArea     float64        `json:"public_area"`
	PrivateArea    float64        `json:"private_area"`
	UnassignedArea float64        `json:"unassigned_area"`
	Steps          []StepSnapshot `json:"steps"`
}

// StepSnapshot is one step's diagnostics in the golden snapshot.
type StepSnapshot struct {
	StepID            int      `json:"step_id"`
	Layer             string   `json:"layer"`
	FeaturesProcessed int      `json:"features_processed"`
	FeaturesPreempted int      `json:"features_preempted"`
	AreaAssigned      float64  `json:"area_assigned"`
	Warnings          []string `json:"warnings,omitempty"`
}

// RunWithGolden executes a scenario, requires its expectations to hold
// and compares the run's snapshot against testdata/golden/{name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s failed: %v", scenario.Name, result.Errors)
	}

	snapshot := RunSnapshot{
		ScenarioName:   scenario.Name,
		RunToken:       scenario.RunToken,
		PublicArea:     roundArea(result.Output.Area(partition.CategoryPublic)),
		PrivateArea:    roundArea(result.Output.Area(partition.CategoryPrivate)),
		UnassignedArea: roundArea(result.Output.Area(partition.CategoryUnassigned)),
	}
	for _, report := range result.Reports {
		step := StepSnapshot{
			StepID:            report.StepID,
			Layer:             report.Layer,
			FeaturesProcessed: report.FeaturesProcessed,
			FeaturesPreempted: report.FeaturesPreempted,
			AreaAssigned:      roundArea(report.AreaAssigned),
		}
		for _, w := range report.Warnings {
			step.Warnings = append(step.Warnings, string(w.Code))
		}
		snapshot.Steps = append(snapshot.Steps, step)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}

func roundArea(a float64) float64 {
	return math.Round(a*1e6) / 1e6
}
