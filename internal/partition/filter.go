package partition

import "slices"

// Matches reports whether a feature passes the filter.
//
// The negative ops (not-equals, not-in) match features that lack the
// attribute entirely: "everything except spoorbaan" includes road parts
// with no functie attribute at all. The positive ops require the
// attribute to be present.
func (f AttributeFilter) Matches(feat SourceFeature) bool {
	if f.Op == FilterAny {
		return true
	}

	value, ok := feat.Attr(f.Attribute)
	switch f.Op {
	case FilterEquals:
		return ok && value == f.Values[0]
	case FilterNotEquals:
		return !ok || value != f.Values[0]
	case FilterIn:
		return ok && slices.Contains(f.Values, value)
	case FilterNotIn:
		return !ok || !slices.Contains(f.Values, value)
	default:
		return false
	}
}
