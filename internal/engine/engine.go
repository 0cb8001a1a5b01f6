package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// State is the engine's lifecycle position.
//
// INIT -> RUNNING(step 0) -> ... -> RUNNING(step n-1) -> FINALIZED.
// No transition skips a step, none occurs out of order, and FINALIZED is
// terminal.
type State int

const (
	StateInit State = iota
	StateRunning
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultSliverRatio is the default sliver tolerance as a fraction of the
// area of interest's area.
const DefaultSliverRatio = 1e-6

// DefaultWorkers is the default intra-step worker count.
const DefaultWorkers = 4

// Checkpointer persists the commit-log suffix and step cursor after each
// step, so an interrupted run can resume. Optional; checkpointing is not
// required for correctness.
type Checkpointer interface {
	SaveStep(ctx context.Context, report partition.StepReport, entries []partition.CommitEntry, completedSteps int) error
}

// Engine drives the ordered traversal of rule-table steps over a frozen
// region store. Construct with New (fresh run) or Resume (from a
// checkpointed log); a finalized engine cannot be re-run - build a new
// one instead.
type Engine struct {
	aoi    geometry.Polygonal
	table  partition.RuleTable
	loader LayerLoader
	store  *FrozenRegionStore

	runToken      string
	sliverRatio   float64
	workers       int
	noMatchPolicy NoMatchPolicy
	tokens        RunTokenGenerator
	checkpointer  Checkpointer

	state    State
	nextStep int // index into table.Steps
	reports  []partition.StepReport
}

// Option configures an Engine.
type Option func(*Engine)

// WithSliverTolerance sets the sliver tolerance as a fraction of the AOI
// area. Committed remainders below it are discarded as numerical noise.
func WithSliverTolerance(ratio float64) Option {
	return func(e *Engine) {
		e.sliverRatio = ratio
	}
}

// WithWorkers sets the intra-step worker count.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithNoMatchPolicy sets how unmapped attribute values are handled.
func WithNoMatchPolicy(p NoMatchPolicy) Option {
	return func(e *Engine) {
		e.noMatchPolicy = p
	}
}

// WithTokenGenerator overrides the run token generator. Tests use
// FixedGenerator for deterministic commit IDs.
func WithTokenGenerator(g RunTokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithCheckpointer enables per-step checkpointing.
func WithCheckpointer(c Checkpointer) Option {
	return func(e *Engine) {
		e.checkpointer = c
	}
}

// New creates an engine for a fresh run.
//
// The area of interest is canonicalized up front; a degenerate AOI (zero
// or negative area) is fatal here, before any step runs, as is a rule
// table with duplicate or non-monotonic step ids.
func New(aoi geometry.Polygonal, table partition.RuleTable, loader LayerLoader, opts ...Option) (*Engine, error) {
	e, err := build(aoi, table, loader, opts)
	if err != nil {
		return nil, err
	}

	e.runToken = e.tokens.Generate()
	e.store = NewFrozenRegionStore(e.aoi, e.runToken, e.sliverRatio, NewClock())
	return e, nil
}

// Resume creates an engine continuing an interrupted run from a persisted
// commit log. completedSteps is the number of rule-table steps whose
// execution fully finished before the interruption.
func Resume(aoi geometry.Polygonal, table partition.RuleTable, loader LayerLoader, runToken string, log []partition.CommitEntry, completedSteps int, opts ...Option) (*Engine, error) {
	e, err := build(aoi, table, loader, opts)
	if err != nil {
		return nil, err
	}
	if completedSteps < 0 || completedSteps > len(table.Steps) {
		return nil, fmt.Errorf("resume: completed steps %d out of range [0,%d]", completedSteps, len(table.Steps))
	}

	store, err := ReplayLog(e.aoi, runToken, log, e.sliverRatio)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}

	e.runToken = runToken
	e.store = store
	e.nextStep = completedSteps

	slog.Info("resuming run",
		"run_token", runToken,
		"completed_steps", completedSteps,
		"log_entries", len(log),
	)
	return e, nil
}

func build(aoi geometry.Polygonal, table partition.RuleTable, loader LayerLoader, opts []Option) (*Engine, error) {
	repaired, err := geometry.Canonicalize(aoi)
	if err != nil {
		return nil, fmt.Errorf("area of interest: %w", err)
	}
	if repaired.Area() <= 0 {
		return nil, NewEmptyAOIError(repaired.Area())
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("rule table: %w", err)
	}
	if loader == nil {
		return nil, fmt.Errorf("layer loader is required")
	}

	e := &Engine{
		aoi:         repaired,
		table:       table,
		loader:      loader,
		sliverRatio: DefaultSliverRatio,
		workers:     DefaultWorkers,
		tokens:      UUIDv7Generator{},
		state:       StateInit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes all remaining rule-table steps in order and finalizes.
//
// On success the returned OutputMap partitions the AOI into public,
// private and the implicit unassigned remainder, pairwise disjoint. On a
// fatal error the OutputMap is zero; diagnostics accumulated before the
// failure remain available via Reports.
//
// There is no cancellation mid-step: the context is observed between
// steps only.
func (e *Engine) Run(ctx context.Context) (partition.OutputMap, error) {
	if e.state == StateFinalized {
		return partition.OutputMap{}, NewFinalizedError()
	}
	e.state = StateRunning

	slog.Info("run starting",
		"run_token", e.runToken,
		"steps", len(e.table.Steps),
		"next_step", e.nextStep,
		"aoi_area", e.aoi.Area(),
	)

	for ; e.nextStep < len(e.table.Steps); e.nextStep++ {
		if err := ctx.Err(); err != nil {
			return partition.OutputMap{}, fmt.Errorf("run cancelled before step %d: %w", e.table.Steps[e.nextStep].ID, err)
		}

		step := e.table.Steps[e.nextStep]
		logBefore := e.store.LogLen()

		report, err := e.runStep(step)
		e.reports = append(e.reports, report)
		if err != nil {
			slog.Error("step failed, aborting run",
				"step_id", step.ID,
				"layer", step.Layer,
				"error", err,
			)
			return partition.OutputMap{}, err
		}

		if e.checkpointer != nil {
			entries := e.store.LogSince(logBefore)
			if err := e.checkpointer.SaveStep(ctx, report, entries, e.nextStep+1); err != nil {
				return partition.OutputMap{}, fmt.Errorf("checkpoint after step %d: %w", step.ID, err)
			}
		}
	}

	return e.finalize()
}

// finalize transitions to the terminal state and derives the output map.
// Performs no dissolve or simplification - it only guarantees
// disjointness and validity; cartographic aggregation is external.
func (e *Engine) finalize() (partition.OutputMap, error) {
	e.store.Freeze()
	e.state = StateFinalized

	unassigned, err := e.aoi.Difference(e.store.AlreadyDecidedArea())
	if err != nil {
		return partition.OutputMap{}, fmt.Errorf("finalize: derive unassigned: %w", err)
	}
	unassigned, err = geometry.Canonicalize(unassigned)
	if err != nil {
		return partition.OutputMap{}, fmt.Errorf("finalize: %w", err)
	}

	out := partition.OutputMap{
		AOIArea: e.aoi.Area(),
		Regions: map[partition.Category]geometry.Polygonal{
			partition.CategoryPublic:     e.store.Region(partition.CategoryPublic),
			partition.CategoryPrivate:    e.store.Region(partition.CategoryPrivate),
			partition.CategoryUnassigned: unassigned,
		},
		Reports: e.Reports(),
	}

	slog.Info("run finalized",
		"run_token", e.runToken,
		"public_area", out.Area(partition.CategoryPublic),
		"private_area", out.Area(partition.CategoryPrivate),
		"unassigned_area", out.Area(partition.CategoryUnassigned),
	)
	return out, nil
}

// Reports returns a copy of the per-step diagnostics accumulated so far,
// in step order. Available after a fatal error as well as after success.
func (e *Engine) Reports() []partition.StepReport {
	out := make([]partition.StepReport, len(e.reports))
	copy(out, e.reports)
	return out
}

// State returns the engine's lifecycle state.
func (e *Engine) State() State {
	return e.state
}

// RunToken returns the token identifying this run.
func (e *Engine) RunToken() string {
	return e.runToken
}

// Store exposes the frozen region store for diagnostics and tests.
func (e *Engine) Store() *FrozenRegionStore {
	return e.store
}
