package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// RunWriter persists one run's checkpoints. It satisfies the engine's
// Checkpointer interface; bind it with Store.StartRun and pass it to the
// engine via its checkpointer option.
type RunWriter struct {
	store *Store
	token string
}

// StartRun registers a run and returns a writer bound to it. Registering
// an already known token is a no-op, so resuming reuses the same call.
func (s *Store) StartRun(ctx context.Context, token string, aoi geometry.Polygonal, sliverRatio float64) (*RunWriter, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (token, aoi_wkb, sliver_ratio, completed_steps)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(token) DO NOTHING
	`, token, aoi.Geometry().AsBinary(), sliverRatio)
	if err != nil {
		return nil, fmt.Errorf("start run %q: %w", token, err)
	}
	return &RunWriter{store: s, token: token}, nil
}

// SaveStep writes one completed step atomically: its commit-log entries,
// its diagnostics report and the advanced step cursor. A re-save of the
// same step is idempotent; commit rows conflict on their content-addressed
// id and the report row is replaced with identical content.
func (w *RunWriter) SaveStep(ctx context.Context, report partition.StepReport, entries []partition.CommitEntry, completedSteps int) error {
	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save step %d: begin: %w", report.StepID, err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if entry.RunToken != w.token {
			return fmt.Errorf("save step %d: entry %s belongs to run %q, writer is bound to %q",
				report.StepID, entry.ID, entry.RunToken, w.token)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO commits (id, run_token, seq, step_id, category, delta_wkb, area)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			entry.ID,
			entry.RunToken,
			entry.Seq,
			entry.StepID,
			string(entry.Category),
			entry.Delta.Geometry().AsBinary(),
			entry.Area,
		)
		if err != nil {
			return fmt.Errorf("save step %d: commit %s: %w", report.StepID, entry.ID, err)
		}
	}

	warningsJSON, err := json.Marshal(report.Warnings)
	if err != nil {
		return fmt.Errorf("save step %d: marshal warnings: %w", report.StepID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO step_reports
		(run_token, step_id, name, layer, features_processed, features_preempted, area_assigned, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token, step_id) DO UPDATE SET
			name = excluded.name,
			layer = excluded.layer,
			features_processed = excluded.features_processed,
			features_preempted = excluded.features_preempted,
			area_assigned = excluded.area_assigned,
			warnings = excluded.warnings
	`,
		w.token,
		report.StepID,
		report.Name,
		report.Layer,
		report.FeaturesProcessed,
		report.FeaturesPreempted,
		report.AreaAssigned,
		string(warningsJSON),
	)
	if err != nil {
		return fmt.Errorf("save step %d: report: %w", report.StepID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET completed_steps = ? WHERE token = ?
	`, completedSteps, w.token)
	if err != nil {
		return fmt.Errorf("save step %d: advance cursor: %w", report.StepID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save step %d: commit tx: %w", report.StepID, err)
	}
	return nil
}

// Token returns the run token this writer is bound to.
func (w *RunWriter) Token() string {
	return w.token
}
