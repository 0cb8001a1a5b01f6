package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/partition"
)

// FrozenRegionStore holds, per category, the union of all geometry already
// committed, plus the append-only commit log the state derives from.
//
// INVARIANTS:
//   - committed area per category is monotonically non-decreasing
//   - once a point lies in any category's region, no later commit can
//     reassign it: Commit subtracts the decided area before adding
//   - the log replayed in seq order reconstructs the exact same state
//
// Commit is the single synchronised mutation point. Workers never touch
// the store directly; they compute remainders against a read-only snapshot
// and the executor commits the merged result.
type FrozenRegionStore struct {
	mu sync.Mutex

	runToken    string
	clock       *Clock
	aoiArea     float64
	sliverRatio float64

	regions map[partition.Category]geometry.Polygonal
	decided geometry.Polygonal

	log   []partition.CommitEntry
	index *rtreego.Rtree

	frozen bool
}

// logRecord is an R-tree leaf pointing at one commit-log entry. Indexing
// the deltas by envelope lets Commit subtract only spatially relevant
// prior decisions instead of the whole decided union on every call.
type logRecord struct {
	rect rtreego.Rect
	pos  int
}

func (r *logRecord) Bounds() rtreego.Rect {
	return r.rect
}

// NewFrozenRegionStore creates an empty store for the given area of
// interest. sliverRatio is the sliver tolerance as a fraction of the AOI
// area; remainders below it are discarded as numerical noise.
func NewFrozenRegionStore(aoi geometry.Polygonal, runToken string, sliverRatio float64, clock *Clock) *FrozenRegionStore {
	return &FrozenRegionStore{
		runToken:    runToken,
		clock:       clock,
		aoiArea:     aoi.Area(),
		sliverRatio: sliverRatio,
		regions:     make(map[partition.Category]geometry.Polygonal),
		decided:     geometry.Empty(),
		index:       rtreego.NewTree(2, 4, 8),
	}
}

// AlreadyDecidedArea returns the union of all categories' committed
// geometry so far.
func (s *FrozenRegionStore) AlreadyDecidedArea() geometry.Polygonal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decided
}

// Region returns the committed geometry for one category.
func (s *FrozenRegionStore) Region(cat partition.Category) geometry.Polygonal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.regions[cat]; ok {
		return r
	}
	return geometry.Empty()
}

// Commit adds geometry to a category, enforcing first-step-wins.
//
// The input is first reduced by everything already decided, so calling
// Commit twice with the same geometry is a no-op the second time: the
// first call already removed that area from the undecided remainder.
// The committed delta (possibly empty) is returned.
//
// The subtraction only considers prior log entries whose envelope
// intersects the candidate's - subtracting disjoint geometry is a no-op,
// so skipping it cannot change the result.
func (s *FrozenRegionStore) Commit(stepID int, cat partition.Category, g geometry.Polygonal) (geometry.Polygonal, error) {
	if !cat.Assignable() {
		return geometry.Polygonal{}, fmt.Errorf("category %q is not assignable", cat)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return geometry.Polygonal{}, NewFinalizedError()
	}
	if g.IsEmpty() {
		return geometry.Empty(), nil
	}

	candidate, err := geometry.Canonicalize(g)
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("commit step %d: %w", stepID, err)
	}

	remainder, err := candidate.Difference(s.decidedNearLocked(candidate))
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("commit step %d: subtract decided: %w", stepID, err)
	}
	remainder, err = geometry.Canonicalize(remainder)
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("commit step %d: %w", stepID, err)
	}

	if remainder.Area() < s.sliverRatio*s.aoiArea {
		slog.Debug("commit discarded as sliver",
			"step_id", stepID,
			"category", cat,
			"area", remainder.Area(),
		)
		return geometry.Empty(), nil
	}

	seq := s.clock.Next()
	id, err := partition.CommitID(s.runToken, stepID, cat, remainder.Geometry().AsBinary(), seq)
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("commit step %d: %w", stepID, err)
	}

	region, ok := s.regions[cat]
	if !ok {
		region = geometry.Empty()
	}
	region, err = region.Union(remainder)
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("commit step %d: grow region: %w", stepID, err)
	}
	decided, err := s.decided.Union(remainder)
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("commit step %d: grow decided: %w", stepID, err)
	}

	entry := partition.CommitEntry{
		ID:       id,
		Seq:      seq,
		RunToken: s.runToken,
		StepID:   stepID,
		Category: cat,
		Delta:    remainder,
		Area:     remainder.Area(),
	}

	s.regions[cat] = region
	s.decided = decided
	s.appendLocked(entry)

	slog.Debug("commit",
		"step_id", stepID,
		"category", cat,
		"seq", seq,
		"area", entry.Area,
	)

	return remainder, nil
}

// decidedNearLocked returns the union of prior deltas whose envelopes
// intersect the candidate's envelope. Caller must hold the mutex.
func (s *FrozenRegionStore) decidedNearLocked(candidate geometry.Polygonal) geometry.Polygonal {
	rect, ok := geometry.Rect(candidate)
	if !ok || len(s.log) == 0 {
		return geometry.Empty()
	}

	hits := s.index.SearchIntersect(rect)
	if len(hits) == 0 {
		return geometry.Empty()
	}

	parts := make([]geometry.Polygonal, 0, len(hits))
	for _, hit := range hits {
		rec := hit.(*logRecord)
		parts = append(parts, s.log[rec.pos].Delta)
	}
	near, err := geometry.UnionAll(parts)
	if err != nil {
		// Deltas are canonical by construction; a union failure here
		// means the envelope shortcut cannot be trusted. Fall back to
		// the full decided union.
		slog.Warn("envelope-filtered union failed, using full decided area", "error", err)
		return s.decided
	}
	return near
}

// appendLocked appends an entry to the log and the spatial index.
// Caller must hold the mutex.
func (s *FrozenRegionStore) appendLocked(entry partition.CommitEntry) {
	pos := len(s.log)
	s.log = append(s.log, entry)
	if rect, ok := geometry.Rect(entry.Delta); ok {
		s.index.Insert(&logRecord{rect: rect, pos: pos})
	}
}

// Freeze transitions the store to its terminal state. All further Commit
// calls fail. Idempotent.
func (s *FrozenRegionStore) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}

// Frozen reports whether the store has been frozen.
func (s *FrozenRegionStore) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// LogLen returns the number of commit-log entries.
func (s *FrozenRegionStore) LogLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// LogSince returns a copy of the log entries from position n onward.
func (s *FrozenRegionStore) LogSince(n int) []partition.CommitEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n > len(s.log) {
		return nil
	}
	out := make([]partition.CommitEntry, len(s.log)-n)
	copy(out, s.log[n:])
	return out
}

// Log returns a copy of the full commit log in seq order.
func (s *FrozenRegionStore) Log() []partition.CommitEntry {
	return s.LogSince(0)
}

// RunToken returns the run token entries are stamped with.
func (s *FrozenRegionStore) RunToken() string {
	return s.runToken
}
