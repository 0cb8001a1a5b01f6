package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// setupClassifyInputs lays out a complete working directory: AOI, rules
// and one GeoJSON layer per rule-table step.
func setupClassifyInputs(t *testing.T) (aoiPath, rulesPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()

	aoiPath = filepath.Join(dir, "aoi.wkt")
	writeFile(t, aoiPath, "POLYGON((0 0,10 0,10 10,0 10,0 0))\n")

	rulesPath = filepath.Join(dir, "rules.cue")
	writeFile(t, rulesPath, `
table: steps: [
	{id: 10, name: "parks", layer: "parks", assign: "public"},
	{id: 20, name: "estates", layer: "estates", assign: "private"},
]
`)

	dataDir = filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(dataDir, 0o755))
	writeFile(t, filepath.Join(dataDir, "parks.geojson"), `{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"id": "p1",
			"geometry": {"type": "Polygon", "coordinates": [[[0,0],[6,0],[6,10],[0,10],[0,0]]]},
			"properties": {}
		}]
	}`)
	writeFile(t, filepath.Join(dataDir, "estates.geojson"), `{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"id": "e1",
			"geometry": {"type": "Polygon", "coordinates": [[[4,0],[10,0],[10,10],[4,10],[4,0]]]},
			"properties": {}
		}]
	}`)
	return aoiPath, rulesPath, dataDir
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", "whatever.cue")
	assert.ErrorContains(t, err, "invalid format")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.cue")
	writeFile(t, path, `
table: steps: [
	{id: 1, layer: "parks", assign: "public"},
]
`)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid (1 steps)")
}

func TestValidateCommandRejectsBadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.cue")
	writeFile(t, path, `
table: steps: [
	{id: 2, layer: "parks", assign: "public"},
	{id: 1, layer: "estates", assign: "private"},
]
`)

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error")
}

func TestClassifyCommandEndToEnd(t *testing.T) {
	aoiPath, rulesPath, dataDir := setupClassifyInputs(t)
	outPath := filepath.Join(t.TempDir(), "out.geojson")

	out, err := execute(t, "--format", "json", "classify",
		"--aoi", aoiPath, "--rules", rulesPath, "--data", dataDir, "--out", outPath)
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   classifySummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.InDelta(t, 100.0, resp.Data.AOIArea, 1e-9)
	assert.InDelta(t, 60.0, resp.Data.PublicArea, 1e-9)
	assert.InDelta(t, 40.0, resp.Data.PrivateArea, 1e-9)
	assert.InDelta(t, 0.0, resp.Data.UnassignedArea, 1e-9)
	require.Len(t, resp.Data.Steps, 2)

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(written), "FeatureCollection")
}

func TestClassifyThenTraceCheckpoint(t *testing.T) {
	aoiPath, rulesPath, dataDir := setupClassifyInputs(t)
	dbPath := filepath.Join(t.TempDir(), "run.db")

	_, err := execute(t, "classify",
		"--aoi", aoiPath, "--rules", rulesPath, "--data", dataDir, "--checkpoint", dbPath)
	require.NoError(t, err)

	out, err := execute(t, "--format", "json", "trace", "--checkpoint", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   traceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.CompletedSteps)
	assert.Len(t, resp.Data.Steps, 2)
	assert.NotEmpty(t, resp.Data.RunToken)
}

func TestClassifyResumeRequiresCheckpoint(t *testing.T) {
	aoiPath, rulesPath, dataDir := setupClassifyInputs(t)

	_, err := execute(t, "classify",
		"--aoi", aoiPath, "--rules", rulesPath, "--data", dataDir, "--resume")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTraceEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	_, err := execute(t, "trace", "--checkpoint", dbPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
