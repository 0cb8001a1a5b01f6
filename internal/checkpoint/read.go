package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// ErrRunNotFound is returned when a run token has no row in the database.
var ErrRunNotFound = errors.New("run not found")

// RunState is the persisted position of a run: what it classifies and how
// far it got.
type RunState struct {
	Token          string
	AOI            geometry.Polygonal
	SliverRatio    float64
	CompletedSteps int
}

// LoadRun reads a run's state by token.
func (s *Store) LoadRun(ctx context.Context, token string) (RunState, error) {
	var (
		state  RunState
		aoiWKB []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, aoi_wkb, sliver_ratio, completed_steps
		FROM runs WHERE token = ?
	`, token).Scan(&state.Token, &aoiWKB, &state.SliverRatio, &state.CompletedSteps)
	if errors.Is(err, sql.ErrNoRows) {
		return RunState{}, fmt.Errorf("load run %q: %w", token, ErrRunNotFound)
	}
	if err != nil {
		return RunState{}, fmt.Errorf("load run %q: %w", token, err)
	}

	state.AOI, err = polygonalFromWKB(aoiWKB)
	if err != nil {
		return RunState{}, fmt.Errorf("load run %q: aoi: %w", token, err)
	}
	return state, nil
}

// LatestRun returns the most recently registered run token, or
// ErrRunNotFound for an empty database.
func (s *Store) LatestRun(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `
		SELECT token FROM runs ORDER BY rowid DESC LIMIT 1
	`).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	return token, nil
}

// LoadEntries reads a run's full commit log in seq order, ready for
// replay. Geometry integrity is not checked here; replay recomputes each
// entry's content-addressed id.
func (s *Store) LoadEntries(ctx context.Context, token string) ([]partition.CommitEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_token, seq, step_id, category, delta_wkb, area
		FROM commits
		WHERE run_token = ?
		ORDER BY seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("load entries for %q: %w", token, err)
	}
	defer rows.Close()

	var entries []partition.CommitEntry
	for rows.Next() {
		var (
			entry    partition.CommitEntry
			category string
			deltaWKB []byte
		)
		if err := rows.Scan(&entry.ID, &entry.RunToken, &entry.Seq, &entry.StepID, &category, &deltaWKB, &entry.Area); err != nil {
			return nil, fmt.Errorf("load entries for %q: scan: %w", token, err)
		}
		entry.Category = partition.Category(category)
		entry.Delta, err = polygonalFromWKB(deltaWKB)
		if err != nil {
			return nil, fmt.Errorf("load entries for %q: entry %s: %w", token, entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load entries for %q: %w", token, err)
	}
	return entries, nil
}

// LoadReports reads a run's per-step diagnostics in step order.
func (s *Store) LoadReports(ctx context.Context, token string) ([]partition.StepReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, name, layer, features_processed, features_preempted, area_assigned, warnings
		FROM step_reports
		WHERE run_token = ?
		ORDER BY step_id ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("load reports for %q: %w", token, err)
	}
	defer rows.Close()

	var reports []partition.StepReport
	for rows.Next() {
		var (
			report       partition.StepReport
			warningsJSON string
		)
		if err := rows.Scan(&report.StepID, &report.Name, &report.Layer,
			&report.FeaturesProcessed, &report.FeaturesPreempted, &report.AreaAssigned, &warningsJSON); err != nil {
			return nil, fmt.Errorf("load reports for %q: scan: %w", token, err)
		}
		if err := json.Unmarshal([]byte(warningsJSON), &report.Warnings); err != nil {
			return nil, fmt.Errorf("load reports for %q: step %d warnings: %w", token, report.StepID, err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load reports for %q: %w", token, err)
	}
	return reports, nil
}

func polygonalFromWKB(wkb []byte) (geometry.Polygonal, error) {
	g, err := geom.UnmarshalWKB(wkb)
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("parse wkb: %w", err)
	}
	return geometry.FromGeometry(g)
}
