// Package compiler turns CUE rule-table definitions into the ordered
// classification steps the engine executes.
//
// Rule tables are authored as a CUE struct:
//
//	table: steps: [
//		{
//			id:     10
//			name:   "municipal parks"
//			layer:  "parks"
//			filter: {attribute: "type", in: ["park", "green"]}
//			assign: "public"
//		},
//		{
//			id:    20
//			layer: "estates"
//			map: {
//				attribute: "ownership"
//				values: municipal: "public"
//				values: corporate: "private"
//				fallback: "private"
//			}
//		},
//	]
//
// Each step names exactly one of assign (unconditional category) or map
// (attribute-driven category). Compilation is structural; ordering and
// semantic rules are enforced by the rule table's own validation, which
// LoadTable runs after compiling.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/daanvh/publicspace/internal/partition"
)

// CompileTable parses a CUE value into a rule table. The value should be
// the table struct itself:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(src)
//	table, err := CompileTable(v.LookupPath(cue.ParsePath("table")))
func CompileTable(v cue.Value) (partition.RuleTable, error) {
	if err := v.Err(); err != nil {
		return partition.RuleTable{}, formatCUEError(err)
	}

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return partition.RuleTable{}, &CompileError{
			Field:   "steps",
			Message: "steps list is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := stepsVal.List()
	if err != nil {
		return partition.RuleTable{}, formatCUEError(err)
	}

	var table partition.RuleTable
	for i := 0; iter.Next(); i++ {
		step, err := compileStep(iter.Value(), i)
		if err != nil {
			return partition.RuleTable{}, err
		}
		table.Steps = append(table.Steps, step)
	}
	return table, nil
}

func compileStep(v cue.Value, index int) (partition.ClassificationStep, error) {
	var step partition.ClassificationStep
	field := func(name string) string { return fmt.Sprintf("steps[%d].%s", index, name) }

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return step, &CompileError{Field: field("id"), Message: "id is required", Pos: v.Pos()}
	}
	id, err := idVal.Int64()
	if err != nil {
		return step, formatCUEError(err)
	}
	step.ID = int(id)

	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		if step.Name, err = nameVal.String(); err != nil {
			return step, formatCUEError(err)
		}
	}

	layerVal := v.LookupPath(cue.ParsePath("layer"))
	if !layerVal.Exists() {
		return step, &CompileError{Field: field("layer"), Message: "layer is required", Pos: v.Pos()}
	}
	if step.Layer, err = layerVal.String(); err != nil {
		return step, formatCUEError(err)
	}

	step.Filter, err = compileFilter(v.LookupPath(cue.ParsePath("filter")), field("filter"))
	if err != nil {
		return step, err
	}

	assignVal := v.LookupPath(cue.ParsePath("assign"))
	mapVal := v.LookupPath(cue.ParsePath("map"))
	switch {
	case assignVal.Exists() && mapVal.Exists():
		return step, &CompileError{
			Field:   field("assign"),
			Message: "assign and map are mutually exclusive",
			Pos:     v.Pos(),
		}
	case assignVal.Exists():
		cat, err := compileCategory(assignVal, field("assign"))
		if err != nil {
			return step, err
		}
		step.Mapping = partition.CategoryMapping{Fallback: cat}
	case mapVal.Exists():
		if step.Mapping, err = compileMapping(mapVal, field("map")); err != nil {
			return step, err
		}
	default:
		return step, &CompileError{
			Field:   field("assign"),
			Message: "one of assign or map is required",
			Pos:     v.Pos(),
		}
	}

	return step, nil
}

// compileFilter parses an optional filter. A missing filter matches every
// feature in the layer.
func compileFilter(v cue.Value, field string) (partition.AttributeFilter, error) {
	if !v.Exists() {
		return partition.AttributeFilter{Op: partition.FilterAny}, nil
	}

	attrVal := v.LookupPath(cue.ParsePath("attribute"))
	if !attrVal.Exists() {
		return partition.AttributeFilter{}, &CompileError{
			Field:   field + ".attribute",
			Message: "attribute is required",
			Pos:     v.Pos(),
		}
	}
	attr, err := attrVal.String()
	if err != nil {
		return partition.AttributeFilter{}, formatCUEError(err)
	}

	type opSpec struct {
		path string
		op   partition.FilterOp
		list bool
	}
	specs := []opSpec{
		{"equals", partition.FilterEquals, false},
		{"not_equals", partition.FilterNotEquals, false},
		{"in", partition.FilterIn, true},
		{"not_in", partition.FilterNotIn, true},
	}

	var (
		filter partition.AttributeFilter
		found  int
	)
	for _, spec := range specs {
		opVal := v.LookupPath(cue.ParsePath(spec.path))
		if !opVal.Exists() {
			continue
		}
		found++

		values, err := compileFilterValues(opVal, spec.list)
		if err != nil {
			return partition.AttributeFilter{}, formatCUEError(err)
		}
		filter = partition.AttributeFilter{Attribute: attr, Op: spec.op, Values: values}
	}

	if found != 1 {
		return partition.AttributeFilter{}, &CompileError{
			Field:   field,
			Message: "exactly one of equals, not_equals, in, not_in is required",
			Pos:     v.Pos(),
		}
	}
	return filter, nil
}

func compileFilterValues(v cue.Value, list bool) ([]string, error) {
	if !list {
		s, err := v.String()
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}

	iter, err := v.List()
	if err != nil {
		return nil, err
	}
	var values []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, err
		}
		values = append(values, s)
	}
	return values, nil
}

func compileMapping(v cue.Value, field string) (partition.CategoryMapping, error) {
	var mapping partition.CategoryMapping

	attrVal := v.LookupPath(cue.ParsePath("attribute"))
	if !attrVal.Exists() {
		return mapping, &CompileError{
			Field:   field + ".attribute",
			Message: "attribute is required",
			Pos:     v.Pos(),
		}
	}
	attr, err := attrVal.String()
	if err != nil {
		return mapping, formatCUEError(err)
	}
	mapping.Attribute = attr

	valuesVal := v.LookupPath(cue.ParsePath("values"))
	if !valuesVal.Exists() {
		return mapping, &CompileError{
			Field:   field + ".values",
			Message: "values is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := valuesVal.Fields()
	if err != nil {
		return mapping, formatCUEError(err)
	}
	mapping.Values = make(map[string]partition.Category)
	for iter.Next() {
		value := iter.Label()
		cat, err := compileCategory(iter.Value(), field+".values."+value)
		if err != nil {
			return mapping, err
		}
		mapping.Values[value] = cat
	}

	if fbVal := v.LookupPath(cue.ParsePath("fallback")); fbVal.Exists() {
		if mapping.Fallback, err = compileCategory(fbVal, field+".fallback"); err != nil {
			return mapping, err
		}
	}

	return mapping, nil
}

func compileCategory(v cue.Value, field string) (partition.Category, error) {
	s, err := v.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	cat := partition.Category(s)
	if !cat.Assignable() {
		return "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("category %q is not assignable (use %q or %q)", s, partition.CategoryPublic, partition.CategoryPrivate),
			Pos:     v.Pos(),
		}
	}
	return cat, nil
}
