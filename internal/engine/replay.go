package engine

import (
	"fmt"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// ReplayLog rebuilds a FrozenRegionStore from a persisted commit log.
//
// Replay is structural: entries are deltas, already disjoint from one
// another by construction, so rebuilding is a pure fold of unions in seq
// order - no subtraction is repeated and no geometry is recomputed. The
// resulting store is byte-for-byte equivalent to the one that wrote the
// log, including its clock position, so a resumed run continues the same
// seq sequence.
//
// Integrity checks per entry, all fatal with ErrCodeReplayCorrupt:
//   - seq strictly increasing
//   - run token matches
//   - content-addressed ID recomputes to the stored value
func ReplayLog(aoi geometry.Polygonal, runToken string, entries []partition.CommitEntry, sliverRatio float64) (*FrozenRegionStore, error) {
	s := NewFrozenRegionStore(aoi, runToken, sliverRatio, NewClock())

	var lastSeq int64
	for i, entry := range entries {
		if entry.Seq <= lastSeq {
			return nil, replayCorrupt(i, fmt.Sprintf("seq %d not increasing (previous %d)", entry.Seq, lastSeq))
		}
		lastSeq = entry.Seq

		if entry.RunToken != runToken {
			return nil, replayCorrupt(i, fmt.Sprintf("run token %q does not match %q", entry.RunToken, runToken))
		}

		wantID, err := partition.CommitID(runToken, entry.StepID, entry.Category, entry.Delta.Geometry().AsBinary(), entry.Seq)
		if err != nil {
			return nil, replayCorrupt(i, err.Error())
		}
		if wantID != entry.ID {
			return nil, replayCorrupt(i, "commit id does not match entry content")
		}

		region, ok := s.regions[entry.Category]
		if !ok {
			region = geometry.Empty()
		}
		region, err = region.Union(entry.Delta)
		if err != nil {
			return nil, replayCorrupt(i, err.Error())
		}
		decided, err := s.decided.Union(entry.Delta)
		if err != nil {
			return nil, replayCorrupt(i, err.Error())
		}

		s.regions[entry.Category] = region
		s.decided = decided
		s.appendLocked(entry)
	}

	s.clock = NewClockAt(lastSeq)
	return s, nil
}

func replayCorrupt(index int, msg string) *RunError {
	return &RunError{
		Code:    ErrCodeReplayCorrupt,
		Message: fmt.Sprintf("log entry %d: %s", index, msg),
	}
}
