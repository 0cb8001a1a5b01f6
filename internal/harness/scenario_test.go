package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daanvh/publicspace/internal/partition"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, `
name: minimal
description: "Single unconditional step"
aoi: "POLYGON((0 0,1 0,1 1,0 1,0 0))"
layers:
  parks:
    - id: p1
      wkt: "POLYGON((0 0,1 0,1 1,0 1,0 0))"
steps:
  - id: 1
    layer: parks
    assign: public
expect:
  areas:
    public: 1
`)
	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "scenario-run", scenario.RunToken)
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, "public", scenario.Steps[0].Assign)
	assert.InDelta(t, 1.0, scenario.Expect.Areas["public"], 0)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "Misspelt key must fail"
aoi: "POLYGON((0 0,1 0,1 1,0 1,0 0))"
steps:
  - id: 1
    layer: parks
    assign: public
expectation: {}
`)
	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestLoadScenario_RequiresAssignOrMap(t *testing.T) {
	path := writeScenario(t, `
name: bad_step
description: "Step with neither assign nor map"
aoi: "POLYGON((0 0,1 0,1 1,0 1,0 0))"
steps:
  - id: 1
    layer: parks
`)
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "exactly one of assign or map")
}

func TestScenarioTable(t *testing.T) {
	scenario := &Scenario{
		Steps: []ScenarioStep{
			{
				ID:     10,
				Layer:  "roads",
				Filter: &ScenarioFilter{Attribute: "kind", Op: "in", Values: []string{"footway"}},
				Assign: "public",
			},
			{
				ID:    20,
				Layer: "cadastre",
				Map: &ScenarioMap{
					Attribute: "ownership",
					Values:    map[string]string{"municipal": "public"},
					Fallback:  "private",
				},
			},
		},
	}

	table, err := scenario.table()
	require.NoError(t, err)
	require.Len(t, table.Steps, 2)
	assert.Equal(t, partition.FilterIn, table.Steps[0].Filter.Op)
	assert.Equal(t, partition.CategoryPublic, table.Steps[0].Mapping.Fallback)
	assert.Equal(t, partition.CategoryPublic, table.Steps[1].Mapping.Values["municipal"])
	assert.Equal(t, partition.CategoryPrivate, table.Steps[1].Mapping.Fallback)
}

func TestScenarioTable_RejectsUnknownFilterOp(t *testing.T) {
	scenario := &Scenario{
		Steps: []ScenarioStep{
			{ID: 1, Layer: "roads", Filter: &ScenarioFilter{Attribute: "kind", Op: "matches"}, Assign: "public"},
		},
	}
	_, err := scenario.table()
	assert.ErrorContains(t, err, `unknown filter op "matches"`)
}
