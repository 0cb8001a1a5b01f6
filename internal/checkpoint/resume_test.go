package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daanvh/publicspace/internal/engine"
	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/layers"
	"github.com/daanvh/publicspace/internal/partition"
)

// Exercises the full persistence loop: run with checkpointing, reload the
// log from disk, resume and compare against an uninterrupted run.
func TestCheckpointedRunResumes(t *testing.T) {
	ctx := context.Background()
	aoi := testAOI()

	loader := layers.NewMemoryLoader()
	loader.Add(
		partition.SourceFeature{
			ID: "p1", Layer: "parks",
			Geometry: geometry.MustWKT("POLYGON((0 0,6 0,6 10,0 10,0 0))"),
		},
		partition.SourceFeature{
			ID: "e1", Layer: "estates",
			Geometry: geometry.MustWKT("POLYGON((4 0,10 0,10 10,4 10,4 0))"),
		},
	)
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		{
			ID: 1, Layer: "parks",
			Filter:  partition.AttributeFilter{Op: partition.FilterAny},
			Mapping: partition.CategoryMapping{Fallback: partition.CategoryPublic},
		},
		{
			ID: 2, Layer: "estates",
			Filter:  partition.AttributeFilter{Op: partition.FilterAny},
			Mapping: partition.CategoryMapping{Fallback: partition.CategoryPrivate},
		},
	}}

	// Reference result without any persistence.
	ref, err := engine.New(aoi, table, loader,
		engine.WithTokenGenerator(engine.FixedGenerator{Token: "run-ref"}))
	require.NoError(t, err)
	want, err := ref.Run(ctx)
	require.NoError(t, err)

	// Checkpointed run of only the first step, standing in for a crash
	// between steps one and two.
	dbPath := filepath.Join(t.TempDir(), "checkpoint.db")
	store, err := Open(dbPath)
	require.NoError(t, err)

	writer, err := store.StartRun(ctx, "run-crash", aoi, engine.DefaultSliverRatio)
	require.NoError(t, err)
	head, err := engine.New(aoi, partition.RuleTable{Steps: table.Steps[:1]}, loader,
		engine.WithTokenGenerator(engine.FixedGenerator{Token: "run-crash"}),
		engine.WithCheckpointer(writer))
	require.NoError(t, err)
	_, err = head.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopen the database, as a fresh process would.
	store, err = Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	token, err := store.LatestRun(ctx)
	require.NoError(t, err)
	state, err := store.LoadRun(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 1, state.CompletedSteps)

	entries, err := store.LoadEntries(ctx, token)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	resumed, err := engine.Resume(state.AOI, table, loader, token, entries, state.CompletedSteps)
	require.NoError(t, err)
	got, err := resumed.Run(ctx)
	require.NoError(t, err)

	assert.InDelta(t, want.Area(partition.CategoryPublic), got.Area(partition.CategoryPublic), 1e-9)
	assert.InDelta(t, want.Area(partition.CategoryPrivate), got.Area(partition.CategoryPrivate), 1e-9)
	assert.InDelta(t, want.Area(partition.CategoryUnassigned), got.Area(partition.CategoryUnassigned), 1e-9)
}
