package partition

import (
	"github.com/daanvh/publicspace/internal/geometry"
)

// Category is an access classification for a region of land.
type Category string

const (
	// CategoryPublic marks area that is freely accessible.
	CategoryPublic Category = "public"

	// CategoryPrivate marks area that is not freely accessible.
	CategoryPrivate Category = "private"

	// CategoryUnassigned is the implicit remainder: area of interest not
	// claimed by any step. It is never a valid commit target.
	CategoryUnassigned Category = "unassigned"
)

// CommitOrder fixes the order in which categories are committed within a
// single step. Features inside one step are an unordered set, but when two
// of them overlap AND resolve to different categories someone has to win.
// The tie-break is this declaration order, applied after recording a
// data-quality warning for the overlap.
var CommitOrder = []Category{CategoryPublic, CategoryPrivate}

// Assignable reports whether a category may be the target of a commit.
func (c Category) Assignable() bool {
	return c == CategoryPublic || c == CategoryPrivate
}

// SourceFeature is one input record from a source layer: a polygonal
// geometry plus its attribute map. Geometry may still be invalid at this
// point; repair happens inside the step executor.
type SourceFeature struct {
	// ID identifies the feature within its source dataset.
	ID string

	// Layer names the source layer the feature came from.
	Layer string

	// Geometry is the feature's areal shape, clipped to the area of
	// interest by the loader.
	Geometry geometry.Polygonal

	// Attrs maps attribute names to values.
	Attrs map[string]string
}

// Attr returns the value for an attribute name, and whether it exists.
func (f SourceFeature) Attr(name string) (string, bool) {
	v, ok := f.Attrs[name]
	return v, ok
}

// FilterOp is the comparison applied by an attribute filter.
type FilterOp string

const (
	// FilterAny matches every feature regardless of attributes.
	FilterAny FilterOp = "any"

	// FilterEquals matches when the attribute equals the single value.
	FilterEquals FilterOp = "equals"

	// FilterNotEquals matches when the attribute differs from the value.
	// Features missing the attribute also match.
	FilterNotEquals FilterOp = "not-equals"

	// FilterIn matches when the attribute is one of the values.
	FilterIn FilterOp = "in"

	// FilterNotIn matches when the attribute is none of the values.
	// Features missing the attribute also match.
	FilterNotIn FilterOp = "not-in"
)

// AttributeFilter selects the features a step considers.
type AttributeFilter struct {
	Attribute string
	Op        FilterOp
	Values    []string
}

// CategoryMapping resolves a matching feature to its category.
//
// Two shapes occur in practice. A fixed assignment ("every building is
// private") sets only Fallback. An attribute-driven mapping sets Attribute
// and Values; a feature whose value is absent from Values falls back to
// Fallback, or resolves to NoMatch when no fallback is configured.
type CategoryMapping struct {
	Attribute string
	Values    map[string]Category
	Fallback  Category
}

// ClassificationStep is one ordered entry of the rule table.
type ClassificationStep struct {
	// ID is the step's sequence index. IDs must be unique and strictly
	// increasing across the table; cross-step order is the single most
	// important invariant of the whole system.
	ID int

	// Name is an optional human-readable label for diagnostics.
	Name string

	// Layer identifies the source layer to pull candidates from.
	Layer string

	// Filter selects the candidate features this step considers.
	Filter AttributeFilter

	// Mapping resolves each matching feature to its category.
	Mapping CategoryMapping
}

// RuleTable is the ordered, immutable sequence of classification steps.
type RuleTable struct {
	Steps []ClassificationStep
}

// WarningCode classifies a recorded per-feature diagnostic.
type WarningCode string

const (
	// WarnGeometryInvalid records a feature whose geometry remained
	// invalid after repair and was skipped.
	WarnGeometryInvalid WarningCode = "GEOMETRY_INVALID"

	// WarnUnknownCategory records a feature whose attribute value is
	// absent from the step's mapping (a NoMatch).
	WarnUnknownCategory WarningCode = "UNKNOWN_CATEGORY"

	// WarnCrossCategoryOverlap records two same-step features that
	// overlap but resolve to different categories. The overlap was kept
	// by the category earlier in CommitOrder.
	WarnCrossCategoryOverlap WarningCode = "CROSS_CATEGORY_OVERLAP"

	// WarnNonPolygonalInput records a raw feature rejected at the loader
	// boundary because its geometry is not areal.
	WarnNonPolygonalInput WarningCode = "NON_POLYGONAL_INPUT"
)

// Warning records why a feature (or feature pair) was skipped or flagged.
// Skipped area must always be accounted for: silent area loss is a design
// violation.
type Warning struct {
	Code      WarningCode `json:"code"`
	FeatureID string      `json:"feature_id,omitempty"`
	Layer     string      `json:"layer,omitempty"`
	Area      float64     `json:"area"`
	Detail    string      `json:"detail,omitempty"`
}

// StepReport aggregates diagnostics for one executed step.
type StepReport struct {
	StepID int    `json:"step_id"`
	Name   string `json:"name,omitempty"`
	Layer  string `json:"layer"`

	// FeaturesProcessed counts features that matched the step's filter.
	FeaturesProcessed int `json:"features_processed"`

	// FeaturesPreempted counts matching features whose entire area was
	// already claimed by earlier steps. Informational, not an error.
	FeaturesPreempted int `json:"features_preempted"`

	// AreaAssigned is the total area newly committed by this step.
	AreaAssigned float64 `json:"area_assigned"`

	Warnings []Warning `json:"warnings"`
}

// CommitEntry is one record of the append-only commit log. The frozen
// region state is fully reconstructible by replaying entries in Seq order,
// which keeps the engine deterministic and independent of any collection's
// iteration order.
type CommitEntry struct {
	// ID is the content-addressed identity of this entry.
	ID string

	// Seq is the logical-clock stamp; strictly increasing across the run.
	Seq int64

	// RunToken correlates entries belonging to one engine run.
	RunToken string

	// StepID is the rule-table step that produced the delta.
	StepID int

	// Category the delta was committed to.
	Category Category

	// Delta is exactly the geometry newly added by the commit, after
	// subtracting everything already decided.
	Delta geometry.Polygonal

	// Area of the delta, recorded for audit without re-computation.
	Area float64
}

// OutputMap is the final partition of the area of interest. The three
// category geometries are pairwise disjoint and their union equals the
// area of interest within numeric tolerance.
type OutputMap struct {
	// AOIArea is the area of interest's total area.
	AOIArea float64

	// Regions holds the final geometry per category, including the
	// implicit unassigned remainder.
	Regions map[Category]geometry.Polygonal

	// Reports holds the per-step diagnostics in step order.
	Reports []StepReport
}

// Area returns the area of a category's final region.
func (m OutputMap) Area(c Category) float64 {
	return m.Regions[c].Area()
}
