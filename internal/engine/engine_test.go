package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// stubLoader is a test double for the layer loader.
type stubLoader map[string][]partition.SourceFeature

func (l stubLoader) GetFeatures(layerID string) ([]partition.SourceFeature, error) {
	feats, ok := l[layerID]
	if !ok {
		return nil, fmt.Errorf("layer %q not loaded", layerID)
	}
	return feats, nil
}

func aoi10x10() geometry.Polygonal {
	return geometry.MustWKT("POLYGON((0 0,10 0,10 10,0 10,0 0))")
}

func feat(id, layer, wkt string, attrs map[string]string) partition.SourceFeature {
	return partition.SourceFeature{
		ID:       id,
		Layer:    layer,
		Geometry: geometry.MustWKT(wkt),
		Attrs:    attrs,
	}
}

func fixedStep(id int, layer string, cat partition.Category) partition.ClassificationStep {
	return partition.ClassificationStep{
		ID:      id,
		Layer:   layer,
		Filter:  partition.AttributeFilter{Op: partition.FilterAny},
		Mapping: partition.CategoryMapping{Fallback: cat},
	}
}

func newTestEngine(t *testing.T, table partition.RuleTable, loader LayerLoader, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithTokenGenerator(FixedGenerator{Token: "test-run"})}, opts...)
	e, err := New(aoi10x10(), table, loader, opts...)
	require.NoError(t, err)
	return e
}

func TestNew_EmptyAOIFatal(t *testing.T) {
	empty := geometry.Empty()
	_, err := New(empty, partition.RuleTable{}, stubLoader{})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeEmptyAOI))
}

func TestNew_BadTableFatal(t *testing.T) {
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(1, "a", partition.CategoryPublic),
		fixedStep(1, "b", partition.CategoryPrivate),
	}}

	_, err := New(aoi10x10(), table, stubLoader{})
	require.Error(t, err)

	var soErr *partition.StepOrderError
	assert.ErrorAs(t, err, &soErr)
}

func TestNew_NilLoaderFatal(t *testing.T) {
	_, err := New(aoi10x10(), partition.RuleTable{}, nil)
	assert.ErrorContains(t, err, "layer loader is required")
}

// The defining contract: a region's category is fixed by the first step
// that touches it. Full square to private first, then left half to
// public, must leave public empty; the reversed table splits the square.
func TestRun_OrderSensitivity(t *testing.T) {
	loader := stubLoader{
		"estates": {feat("e-1", "estates", "POLYGON((0 0,10 0,10 10,0 10,0 0))", nil)},
		"parks":   {feat("p-1", "parks", "POLYGON((0 0,5 0,5 10,0 10,0 0))", nil)},
	}

	t.Run("private first claims everything", func(t *testing.T) {
		table := partition.RuleTable{Steps: []partition.ClassificationStep{
			fixedStep(0, "estates", partition.CategoryPrivate),
			fixedStep(1, "parks", partition.CategoryPublic),
		}}

		out, err := newTestEngine(t, table, loader).Run(context.Background())
		require.NoError(t, err)

		assert.InDelta(t, 100.0, out.Area(partition.CategoryPrivate), 1e-6)
		assert.InDelta(t, 0.0, out.Area(partition.CategoryPublic), 1e-6)
		assert.InDelta(t, 0.0, out.Area(partition.CategoryUnassigned), 1e-6)

		require.Len(t, out.Reports, 2)
		assert.Equal(t, 1, out.Reports[1].FeaturesProcessed)
		assert.Equal(t, 1, out.Reports[1].FeaturesPreempted)
		assert.InDelta(t, 0.0, out.Reports[1].AreaAssigned, 1e-6)
	})

	t.Run("public first keeps the left half", func(t *testing.T) {
		table := partition.RuleTable{Steps: []partition.ClassificationStep{
			fixedStep(0, "parks", partition.CategoryPublic),
			fixedStep(1, "estates", partition.CategoryPrivate),
		}}

		out, err := newTestEngine(t, table, loader).Run(context.Background())
		require.NoError(t, err)

		assert.InDelta(t, 50.0, out.Area(partition.CategoryPublic), 1e-6)
		assert.InDelta(t, 50.0, out.Area(partition.CategoryPrivate), 1e-6)
	})
}

func TestRun_DisjointnessAndCoverage(t *testing.T) {
	loader := stubLoader{
		"terrain": {
			feat("t-1", "terrain", "POLYGON((0 0,6 0,6 10,0 10,0 0))", map[string]string{"fysiek_voorkomen": "grasland"}),
			feat("t-2", "terrain", "POLYGON((4 0,10 0,10 10,4 10,4 0))", map[string]string{"fysiek_voorkomen": "erf"}),
		},
	}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		{
			ID:     0,
			Layer:  "terrain",
			Filter: partition.AttributeFilter{Attribute: "fysiek_voorkomen", Op: partition.FilterEquals, Values: []string{"grasland"}},
			Mapping: partition.CategoryMapping{
				Fallback: partition.CategoryPublic,
			},
		},
		{
			ID:     1,
			Layer:  "terrain",
			Filter: partition.AttributeFilter{Attribute: "fysiek_voorkomen", Op: partition.FilterEquals, Values: []string{"erf"}},
			Mapping: partition.CategoryMapping{
				Fallback: partition.CategoryPrivate,
			},
		},
	}}

	out, err := newTestEngine(t, table, loader).Run(context.Background())
	require.NoError(t, err)

	pub := out.Regions[partition.CategoryPublic]
	priv := out.Regions[partition.CategoryPrivate]
	un := out.Regions[partition.CategoryUnassigned]

	// Disjointness: pairwise intersection area is ~0.
	for _, pair := range [][2]geometry.Polygonal{{pub, priv}, {pub, un}, {priv, un}} {
		x, err := pair[0].Intersection(pair[1])
		require.NoError(t, err)
		assert.InDelta(t, 0.0, x.Area(), 1e-6)
	}

	// Coverage: the three categories tile the AOI.
	total := pub.Area() + priv.Area() + un.Area()
	assert.InDelta(t, out.AOIArea, total, 1e-6)

	// The overlap strip (x in [4,6]) went to the first step.
	assert.InDelta(t, 60.0, pub.Area(), 1e-6)
	assert.InDelta(t, 40.0, priv.Area(), 1e-6)
}

func TestRun_UnknownAttributeStaysUnassigned(t *testing.T) {
	loader := stubLoader{
		"terrain": {
			feat("t-1", "terrain", "POLYGON((0 0,4 0,4 4,0 4,0 0))", map[string]string{"type": "moeras"}),
		},
	}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		{
			ID:     0,
			Layer:  "terrain",
			Filter: partition.AttributeFilter{Op: partition.FilterAny},
			Mapping: partition.CategoryMapping{
				Attribute: "type",
				Values:    map[string]partition.Category{"grasland": partition.CategoryPublic},
			},
		},
	}}

	out, err := newTestEngine(t, table, loader).Run(context.Background())
	require.NoError(t, err)

	// Feature excluded from all categories, area remains unassigned.
	assert.InDelta(t, 0.0, out.Area(partition.CategoryPublic), 1e-6)
	assert.InDelta(t, 100.0, out.Area(partition.CategoryUnassigned), 1e-6)

	require.Len(t, out.Reports, 1)
	require.Len(t, out.Reports[0].Warnings, 1)
	w := out.Reports[0].Warnings[0]
	assert.Equal(t, partition.WarnUnknownCategory, w.Code)
	assert.Equal(t, "t-1", w.FeatureID)
	assert.InDelta(t, 16.0, w.Area, 1e-6)
}

func TestRun_NoMatchAbortPolicy(t *testing.T) {
	loader := stubLoader{
		"terrain": {
			feat("t-1", "terrain", "POLYGON((0 0,4 0,4 4,0 4,0 0))", map[string]string{"type": "moeras"}),
		},
	}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		{
			ID:     0,
			Layer:  "terrain",
			Filter: partition.AttributeFilter{Op: partition.FilterAny},
			Mapping: partition.CategoryMapping{
				Attribute: "type",
				Values:    map[string]partition.Category{"grasland": partition.CategoryPublic},
			},
		},
	}}

	e := newTestEngine(t, table, loader, WithNoMatchPolicy(NoMatchAbort))
	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeNoMatchAbort))

	// Partial diagnostics still surface.
	require.Len(t, e.Reports(), 1)
	assert.NotEmpty(t, e.Reports()[0].Warnings)
}

func TestRun_InvalidGeometryRepairedAndCommitted(t *testing.T) {
	loader := stubLoader{
		"terrain": {
			// Bowtie: invalid on arrival, repaired by canonicalization.
			feat("ok", "terrain", "POLYGON((0 0,2 2,2 0,0 2,0 0))", nil),
		},
	}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(0, "terrain", partition.CategoryPublic),
	}}

	out, err := newTestEngine(t, table, loader).Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Area(partition.CategoryPublic), 1e-6)
	assert.Empty(t, out.Reports[0].Warnings)
}

func TestRun_UnrepairableGeometrySkippedWithWarning(t *testing.T) {
	loader := stubLoader{
		"terrain": {
			// Collapsed ring: repair finds no interior, so the feature
			// is dropped with a warning instead of aborting the run.
			feat("degenerate", "terrain", "POLYGON((0 0,1 1,0 0))", nil),
			feat("solid", "terrain", "POLYGON((2 2,5 2,5 5,2 5,2 2))", nil),
		},
	}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(0, "terrain", partition.CategoryPublic),
	}}

	out, err := newTestEngine(t, table, loader).Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 9.0, out.Area(partition.CategoryPublic), 1e-6)

	report := out.Reports[0]
	assert.Equal(t, 2, report.FeaturesProcessed)
	assert.Equal(t, 0, report.FeaturesPreempted)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, partition.WarnGeometryInvalid, report.Warnings[0].Code)
	assert.Equal(t, "degenerate", report.Warnings[0].FeatureID)
}

func TestRun_SubSliverInputNotCountedAsPreempted(t *testing.T) {
	loader := stubLoader{
		"terrain": {
			// 1e-8 area against a sliver threshold of 1e-4: below the
			// threshold on arrival, with no earlier step to blame.
			feat("speck", "terrain", "POLYGON((0 0,0.0001 0,0.0001 0.0001,0 0.0001,0 0))", nil),
			feat("solid", "terrain", "POLYGON((2 2,5 2,5 5,2 5,2 2))", nil),
		},
	}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(0, "terrain", partition.CategoryPublic),
	}}

	e := newTestEngine(t, table, loader, WithSliverTolerance(1e-6))
	out, err := e.Run(context.Background())
	require.NoError(t, err)

	report := out.Reports[0]
	assert.Equal(t, 2, report.FeaturesProcessed)
	assert.Equal(t, 0, report.FeaturesPreempted)
	assert.Empty(t, report.Warnings)
	assert.InDelta(t, 9.0, out.Area(partition.CategoryPublic), 1e-6)
}

func TestRun_LayerUnavailableFatal(t *testing.T) {
	loader := stubLoader{} // supplies nothing
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(0, "missing", partition.CategoryPublic),
	}}

	e := newTestEngine(t, table, loader)
	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeLayerUnavailable))

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "missing", re.Layer)

	// The failing step's (partial) report is still surfaced.
	assert.Len(t, e.Reports(), 1)
	assert.Equal(t, StateRunning, e.State())
}

func TestRun_CrossCategoryOverlapWarning(t *testing.T) {
	loader := stubLoader{
		"mixed": {
			feat("m-1", "mixed", "POLYGON((0 0,6 0,6 10,0 10,0 0))", map[string]string{"kind": "open"}),
			feat("m-2", "mixed", "POLYGON((4 0,10 0,10 10,4 10,4 0))", map[string]string{"kind": "closed"}),
		},
	}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		{
			ID:     0,
			Layer:  "mixed",
			Filter: partition.AttributeFilter{Op: partition.FilterAny},
			Mapping: partition.CategoryMapping{
				Attribute: "kind",
				Values: map[string]partition.Category{
					"open":   partition.CategoryPublic,
					"closed": partition.CategoryPrivate,
				},
			},
		},
	}}

	out, err := newTestEngine(t, table, loader).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, out.Reports, 1)
	var overlapWarns []partition.Warning
	for _, w := range out.Reports[0].Warnings {
		if w.Code == partition.WarnCrossCategoryOverlap {
			overlapWarns = append(overlapWarns, w)
		}
	}
	require.Len(t, overlapWarns, 1)
	assert.InDelta(t, 20.0, overlapWarns[0].Area, 1e-6)

	// Tie-break: public commits first, so the strip belongs to public.
	assert.InDelta(t, 60.0, out.Area(partition.CategoryPublic), 1e-6)
	assert.InDelta(t, 40.0, out.Area(partition.CategoryPrivate), 1e-6)
}

func TestRun_FinalizedIsTerminal(t *testing.T) {
	loader := stubLoader{"estates": {feat("e-1", "estates", "POLYGON((0 0,1 0,1 1,0 1,0 0))", nil)}}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(0, "estates", partition.CategoryPrivate),
	}}

	e := newTestEngine(t, table, loader)
	_, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, e.State())

	_, err = e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeFinalized))

	// The store rejects commits after finalization too.
	_, err = e.Store().Commit(9, partition.CategoryPublic, geometry.MustWKT("POLYGON((5 5,6 5,6 6,5 6,5 5))"))
	assert.True(t, IsCode(err, ErrCodeFinalized))
}

func TestRun_ContextCancelledBetweenSteps(t *testing.T) {
	loader := stubLoader{"estates": {feat("e-1", "estates", "POLYGON((0 0,1 0,1 1,0 1,0 0))", nil)}}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(0, "estates", partition.CategoryPrivate),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(t, table, loader).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_IntraStepParallelismDeterministic(t *testing.T) {
	// Many disjoint tiles in one step: whatever the worker scheduling,
	// the merged union and therefore the final area must be identical.
	var feats []partition.SourceFeature
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			wkt := fmt.Sprintf("POLYGON((%d %d,%d %d,%d %d,%d %d,%d %d))",
				i, j, i+1, j, i+1, j+1, i, j+1, i, j)
			feats = append(feats, feat(fmt.Sprintf("cell-%d-%d", i, j), "grid", wkt, nil))
		}
	}
	loader := stubLoader{"grid": feats}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(0, "grid", partition.CategoryPublic),
	}}

	for _, workers := range []int{1, 4, 16} {
		out, err := newTestEngine(t, table, loader, WithWorkers(workers)).Run(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 64.0, out.Area(partition.CategoryPublic), 1e-6, "workers=%d", workers)
		assert.Equal(t, 64, out.Reports[0].FeaturesProcessed)
	}
}

// recordingCheckpointer captures SaveStep calls.
type recordingCheckpointer struct {
	reports []partition.StepReport
	entries [][]partition.CommitEntry
	cursors []int
}

func (c *recordingCheckpointer) SaveStep(_ context.Context, report partition.StepReport, entries []partition.CommitEntry, completedSteps int) error {
	c.reports = append(c.reports, report)
	c.entries = append(c.entries, entries)
	c.cursors = append(c.cursors, completedSteps)
	return nil
}

func TestRun_CheckpointsAfterEachStep(t *testing.T) {
	loader := stubLoader{
		"estates": {feat("e-1", "estates", "POLYGON((0 0,4 0,4 4,0 4,0 0))", nil)},
		"parks":   {feat("p-1", "parks", "POLYGON((6 6,9 6,9 9,6 9,6 6))", nil)},
	}
	table := partition.RuleTable{Steps: []partition.ClassificationStep{
		fixedStep(0, "estates", partition.CategoryPrivate),
		fixedStep(1, "parks", partition.CategoryPublic),
	}}

	cp := &recordingCheckpointer{}
	_, err := newTestEngine(t, table, loader, WithCheckpointer(cp)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, cp.cursors, 2)
	assert.Equal(t, []int{1, 2}, cp.cursors)
	assert.Len(t, cp.entries[0], 1)
	assert.Len(t, cp.entries[1], 1)
	assert.Equal(t, 0, cp.reports[0].StepID)
	assert.Equal(t, 1, cp.reports[1].StepID)
}
