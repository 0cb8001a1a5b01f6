package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// LayerLoader supplies candidate features for a source layer, already
// clipped to the area of interest. The engine performs no further spatial
// filtering against the AOI boundary itself.
type LayerLoader interface {
	GetFeatures(layerID string) ([]partition.SourceFeature, error)
}

// NoMatchPolicy controls how the executor handles a feature whose
// attribute value has no entry in the step's category mapping.
type NoMatchPolicy int

const (
	// NoMatchWarn records a warning and skips the feature. Default.
	NoMatchWarn NoMatchPolicy = iota

	// NoMatchAbort aborts the run on the first unmapped value.
	NoMatchAbort
)

// featureResult is one worker's outcome for one matching feature.
type featureResult struct {
	category  partition.Category
	remainder geometry.Polygonal
	preempted bool
	subSliver bool
	warning   *partition.Warning
}

// runStep executes a single rule-table step.
//
// Phases:
//  1. pull candidates from the layer loader (missing layer is fatal)
//  2. filter by the step's attribute predicate
//  3. per feature, concurrently: repair geometry, resolve category,
//     subtract the pre-step decided snapshot
//  4. merge per-worker remainders per category via union (commutative,
//     so intra-step scheduling cannot affect the result)
//  5. commit each category's merged geometry in CommitOrder
//
// The returned report is populated even when an error is returned, so
// partial diagnostics always surface.
func (e *Engine) runStep(step partition.ClassificationStep) (partition.StepReport, error) {
	report := partition.StepReport{
		StepID:   step.ID,
		Name:     step.Name,
		Layer:    step.Layer,
		Warnings: []partition.Warning{},
	}

	features, err := e.loader.GetFeatures(step.Layer)
	if err != nil {
		return report, NewLayerUnavailableError(step.ID, step.Layer, err)
	}

	matched := make([]partition.SourceFeature, 0, len(features))
	for _, feat := range features {
		if step.Filter.Matches(feat) {
			matched = append(matched, feat)
		}
	}
	report.FeaturesProcessed = len(matched)

	slog.Info("step started",
		"step_id", step.ID,
		"layer", step.Layer,
		"candidates", len(features),
		"matched", len(matched),
	)

	// Read-only snapshot: workers subtract the decided area as it stood
	// before this step. The final Commit subtracts again under the lock,
	// which also resolves overlap introduced within this step.
	decidedBefore := e.store.AlreadyDecidedArea()
	results := e.processFeatures(step, matched, decidedBefore)

	merged := make(map[partition.Category][]geometry.Polygonal)
	for _, res := range results {
		if res.warning != nil {
			report.Warnings = append(report.Warnings, *res.warning)
			if res.warning.Code == partition.WarnUnknownCategory && e.noMatchPolicy == NoMatchAbort {
				return report, NewNoMatchAbortError(step.ID, fmt.Errorf("feature %q: %s", res.warning.FeatureID, res.warning.Detail))
			}
			continue
		}
		if res.subSliver {
			continue
		}
		if res.preempted {
			report.FeaturesPreempted++
			continue
		}
		merged[res.category] = append(merged[res.category], res.remainder)
	}

	unions := make(map[partition.Category]geometry.Polygonal, len(merged))
	for cat, parts := range merged {
		u, err := geometry.UnionAll(parts)
		if err != nil {
			return report, fmt.Errorf("step %d: merge %s remainders: %w", step.ID, cat, err)
		}
		unions[cat] = u
	}

	if w := e.crossCategoryOverlap(step, unions); w != nil {
		report.Warnings = append(report.Warnings, *w)
	}

	// Commit in fixed category order: the documented tie-break for
	// same-step overlap across categories.
	for _, cat := range partition.CommitOrder {
		u, ok := unions[cat]
		if !ok || u.IsEmpty() {
			continue
		}
		delta, err := e.store.Commit(step.ID, cat, u)
		if err != nil {
			return report, fmt.Errorf("step %d: commit %s: %w", step.ID, cat, err)
		}
		report.AreaAssigned += delta.Area()
	}

	slog.Info("step finished",
		"step_id", step.ID,
		"layer", step.Layer,
		"area_assigned", report.AreaAssigned,
		"preempted", report.FeaturesPreempted,
		"warnings", len(report.Warnings),
	)

	return report, nil
}

// processFeatures fans matching features out over the worker pool.
// Result order is unspecified; everything downstream is order-independent.
func (e *Engine) processFeatures(step partition.ClassificationStep, feats []partition.SourceFeature, decidedBefore geometry.Polygonal) []featureResult {
	if len(feats) == 0 {
		return nil
	}

	workers := e.workers
	if workers > len(feats) {
		workers = len(feats)
	}

	jobs := make(chan partition.SourceFeature)
	out := make(chan featureResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feat := range jobs {
				out <- e.processFeature(step, feat, decidedBefore)
			}
		}()
	}

	go func() {
		for _, feat := range feats {
			jobs <- feat
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()

	results := make([]featureResult, 0, len(feats))
	for res := range out {
		results = append(results, res)
	}
	return results
}

// processFeature repairs, resolves and pre-subtracts one feature.
// Pure with respect to engine state: reads only the snapshot.
func (e *Engine) processFeature(step partition.ClassificationStep, feat partition.SourceFeature, decidedBefore geometry.Polygonal) featureResult {
	repaired, err := geometry.Canonicalize(feat.Geometry)
	if err != nil {
		slog.Warn("feature geometry unrepairable, skipping",
			"step_id", step.ID,
			"feature_id", feat.ID,
			"error", err,
		)
		return featureResult{warning: &partition.Warning{
			Code:      partition.WarnGeometryInvalid,
			FeatureID: feat.ID,
			Layer:     feat.Layer,
			Area:      feat.Geometry.Area(),
			Detail:    err.Error(),
		}}
	}

	if repaired.Area() < e.sliverArea() {
		// Below the threshold on arrival: no earlier step took this
		// area away, so it does not count as pre-empted.
		slog.Debug("feature below sliver threshold, skipping",
			"step_id", step.ID,
			"feature_id", feat.ID,
			"area", repaired.Area(),
		)
		return featureResult{subSliver: true}
	}

	cat, err := partition.Resolve(step, feat)
	if err != nil {
		slog.Warn("feature has no category mapping, skipping",
			"step_id", step.ID,
			"feature_id", feat.ID,
			"error", err,
		)
		return featureResult{warning: &partition.Warning{
			Code:      partition.WarnUnknownCategory,
			FeatureID: feat.ID,
			Layer:     feat.Layer,
			Area:      repaired.Area(),
			Detail:    err.Error(),
		}}
	}

	remainder, err := repaired.Difference(decidedBefore)
	if err != nil {
		return featureResult{warning: &partition.Warning{
			Code:      partition.WarnGeometryInvalid,
			FeatureID: feat.ID,
			Layer:     feat.Layer,
			Area:      repaired.Area(),
			Detail:    fmt.Sprintf("subtract decided area: %v", err),
		}}
	}

	if remainder.Area() < e.sliverArea() {
		return featureResult{category: cat, preempted: true}
	}
	return featureResult{category: cat, remainder: remainder}
}

// crossCategoryOverlap checks whether this step's merged geometries
// overlap across categories - the unresolved-precedence case. The source
// data's intent is unknowable here, so the overlap is reported as a
// data-quality warning and the tie-break (CommitOrder) is documented in
// the warning itself rather than silently applied.
func (e *Engine) crossCategoryOverlap(step partition.ClassificationStep, unions map[partition.Category]geometry.Polygonal) *partition.Warning {
	pub, okPub := unions[partition.CategoryPublic]
	priv, okPriv := unions[partition.CategoryPrivate]
	if !okPub || !okPriv {
		return nil
	}

	overlap, err := pub.Intersection(priv)
	if err != nil || overlap.Area() < e.sliverArea() {
		return nil
	}

	slog.Warn("same-step features overlap across categories",
		"step_id", step.ID,
		"layer", step.Layer,
		"area", overlap.Area(),
	)
	return &partition.Warning{
		Code:   partition.WarnCrossCategoryOverlap,
		Layer:  step.Layer,
		Area:   overlap.Area(),
		Detail: fmt.Sprintf("step %d features overlap across categories; overlap kept by %s (fixed commit order)", step.ID, partition.CommitOrder[0]),
	}
}

// sliverArea is the absolute sliver threshold for this run.
func (e *Engine) sliverArea() float64 {
	return e.sliverRatio * e.aoi.Area()
}
