package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testAOI() geometry.Polygonal {
	return geometry.MustWKT("POLYGON((0 0,10 0,10 10,0 10,0 0))")
}

func testEntry(t *testing.T, token string, seq int64, stepID int, cat partition.Category, wkt string) partition.CommitEntry {
	t.Helper()
	delta := geometry.MustWKT(wkt)
	id, err := partition.CommitID(token, stepID, cat, delta.Geometry().AsBinary(), seq)
	require.NoError(t, err)
	return partition.CommitEntry{
		ID:       id,
		Seq:      seq,
		RunToken: token,
		StepID:   stepID,
		Category: cat,
		Delta:    delta,
		Area:     delta.Area(),
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestSaveStep_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w, err := s.StartRun(ctx, "run-1", testAOI(), 1e-6)
	require.NoError(t, err)

	entries := []partition.CommitEntry{
		testEntry(t, "run-1", 1, 1, partition.CategoryPublic, "POLYGON((0 0,4 0,4 4,0 4,0 0))"),
		testEntry(t, "run-1", 2, 1, partition.CategoryPrivate, "POLYGON((6 6,8 6,8 8,6 8,6 6))"),
	}
	report := partition.StepReport{
		StepID:            1,
		Name:              "estates",
		Layer:             "estates",
		FeaturesProcessed: 2,
		AreaAssigned:      20,
		Warnings: []partition.Warning{
			{Code: partition.WarnUnknownCategory, FeatureID: "e9", Layer: "estates", Detail: "value \"mixed\""},
		},
	}
	require.NoError(t, w.SaveStep(ctx, report, entries, 1))

	state, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CompletedSteps)
	assert.InDelta(t, 100.0, state.AOI.Area(), 1e-9)
	assert.Equal(t, 1e-6, state.SliverRatio)

	got, err := s.LoadEntries(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries[0].ID, got[0].ID)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, partition.CategoryPublic, got[0].Category)
	assert.InDelta(t, 16.0, got[0].Delta.Area(), 1e-9)
	assert.Equal(t, entries[1].ID, got[1].ID)

	reports, err := s.LoadReports(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "estates", reports[0].Layer)
	require.Len(t, reports[0].Warnings, 1)
	assert.Equal(t, partition.WarnUnknownCategory, reports[0].Warnings[0].Code)
}

func TestSaveStep_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w, err := s.StartRun(ctx, "run-1", testAOI(), 1e-6)
	require.NoError(t, err)

	entries := []partition.CommitEntry{
		testEntry(t, "run-1", 1, 1, partition.CategoryPublic, "POLYGON((0 0,4 0,4 4,0 4,0 0))"),
	}
	report := partition.StepReport{StepID: 1, Layer: "estates", FeaturesProcessed: 1, AreaAssigned: 16}

	require.NoError(t, w.SaveStep(ctx, report, entries, 1))
	require.NoError(t, w.SaveStep(ctx, report, entries, 1))

	got, err := s.LoadEntries(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	reports, err := s.LoadReports(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestSaveStep_RejectsForeignEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w, err := s.StartRun(ctx, "run-1", testAOI(), 1e-6)
	require.NoError(t, err)

	foreign := []partition.CommitEntry{
		testEntry(t, "run-2", 1, 1, partition.CategoryPublic, "POLYGON((0 0,1 0,1 1,0 1,0 0))"),
	}
	err = w.SaveStep(ctx, partition.StepReport{StepID: 1, Layer: "x"}, foreign, 1)
	assert.ErrorContains(t, err, "belongs to run")

	// The rejected transaction must not leave partial rows behind.
	got, err := s.LoadEntries(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStartRun_ExistingTokenKeepsCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w, err := s.StartRun(ctx, "run-1", testAOI(), 1e-6)
	require.NoError(t, err)
	entries := []partition.CommitEntry{
		testEntry(t, "run-1", 1, 1, partition.CategoryPublic, "POLYGON((0 0,4 0,4 4,0 4,0 0))"),
	}
	require.NoError(t, w.SaveStep(ctx, partition.StepReport{StepID: 1, Layer: "x"}, entries, 1))

	// Re-registering on resume must not reset completed_steps.
	_, err = s.StartRun(ctx, "run-1", testAOI(), 1e-6)
	require.NoError(t, err)

	state, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CompletedSteps)
}

func TestLoadRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadRun(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLatestRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.StartRun(ctx, "run-1", testAOI(), 1e-6)
	require.NoError(t, err)
	_, err = s.StartRun(ctx, "run-2", testAOI(), 1e-6)
	require.NoError(t, err)

	token, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", token)
}
