package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/daanvh/publicspace/internal/engine"
	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/layers"
	"github.com/daanvh/publicspace/internal/partition"
)

// areaTolerance is the absolute tolerance for expected-area comparisons.
const areaTolerance = 1e-6

// Result captures a scenario execution.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool

	// Errors lists the expectations that failed, one message each.
	Errors []string

	// Output is the final partition, zero when the run failed.
	Output partition.OutputMap

	// Reports are the per-step diagnostics, present even for failed
	// runs.
	Reports []partition.StepReport

	// RunErr is the engine's fatal error, nil on success.
	RunErr error
}

// Run executes a scenario against a fresh in-memory engine and evaluates
// its expectations.
func Run(scenario *Scenario) (*Result, error) {
	aoi, err := geometry.FromWKT(scenario.AOI)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: aoi: %w", scenario.Name, err)
	}

	loader := layers.NewMemoryLoader()
	for layerID, feats := range scenario.Layers {
		for _, f := range feats {
			g, err := geometry.FromWKT(f.WKT)
			if err != nil {
				return nil, fmt.Errorf("scenario %s: layer %s feature %s: %w", scenario.Name, layerID, f.ID, err)
			}
			loader.Add(partition.SourceFeature{
				ID:       f.ID,
				Layer:    layerID,
				Geometry: g,
				Attrs:    f.Attrs,
			})
		}
	}

	table, err := scenario.table()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	opts := []engine.Option{
		engine.WithTokenGenerator(engine.FixedGenerator{Token: scenario.RunToken}),
	}
	if scenario.SliverRatio > 0 {
		opts = append(opts, engine.WithSliverTolerance(scenario.SliverRatio))
	}
	if scenario.AbortOnNoMatch {
		opts = append(opts, engine.WithNoMatchPolicy(engine.NoMatchAbort))
	}

	eng, err := engine.New(aoi, table, loader, opts...)
	if err != nil {
		return evaluateFailure(scenario, nil, err)
	}

	out, runErr := eng.Run(context.Background())
	if runErr != nil {
		return evaluateFailure(scenario, eng.Reports(), runErr)
	}

	result := &Result{
		Pass:    true,
		Output:  out,
		Reports: out.Reports,
	}
	checkAreas(scenario, result)
	checkWarnings(scenario, result)
	if scenario.Expect.Error != "" {
		result.fail(fmt.Sprintf("expected error containing %q, run succeeded", scenario.Expect.Error))
	}
	return result, nil
}

// evaluateFailure turns a fatal run error into a result, passing when the
// scenario expected exactly this failure.
func evaluateFailure(scenario *Scenario, reports []partition.StepReport, runErr error) (*Result, error) {
	result := &Result{
		Pass:    true,
		Reports: reports,
		RunErr:  runErr,
	}
	if scenario.Expect.Error == "" {
		result.fail(fmt.Sprintf("unexpected run error: %v", runErr))
		return result, nil
	}
	if !strings.Contains(runErr.Error(), scenario.Expect.Error) {
		result.fail(fmt.Sprintf("run error %q does not contain %q", runErr, scenario.Expect.Error))
	}
	return result, nil
}

func checkAreas(scenario *Scenario, result *Result) {
	for name, want := range scenario.Expect.Areas {
		got := result.Output.Area(partition.Category(name))
		if diff := got - want; diff > areaTolerance || diff < -areaTolerance {
			result.fail(fmt.Sprintf("area %s: got %v, want %v", name, got, want))
		}
	}
}

func checkWarnings(scenario *Scenario, result *Result) {
	for _, want := range scenario.Expect.Warnings {
		if !hasWarning(result.Reports, want) {
			result.fail(fmt.Sprintf("missing warning %s in step %d (feature %q)", want.Code, want.Step, want.FeatureID))
		}
	}
}

func hasWarning(reports []partition.StepReport, want ExpectedWarning) bool {
	for _, report := range reports {
		if report.StepID != want.Step {
			continue
		}
		for _, w := range report.Warnings {
			if string(w.Code) != want.Code {
				continue
			}
			if want.FeatureID != "" && w.FeatureID != want.FeatureID {
				continue
			}
			return true
		}
	}
	return false
}

func (r *Result) fail(msg string) {
	r.Pass = false
	r.Errors = append(r.Errors, msg)
}
