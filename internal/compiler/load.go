package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/daanvh/publicspace/internal/partition"
)

// LoadTable reads a CUE file, compiles the rule table under its top-level
// "table" field and validates step ordering. This is the one entry point
// the CLI uses; CompileTable is exposed separately for callers that embed
// CUE sources.
func LoadTable(path string) (partition.RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return partition.RuleTable{}, fmt.Errorf("load rule table: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return partition.RuleTable{}, formatCUEError(err)
	}

	tableVal := v.LookupPath(cue.ParsePath("table"))
	if !tableVal.Exists() {
		return partition.RuleTable{}, &CompileError{
			Field:   "table",
			Message: "top-level table struct is required",
			Pos:     v.Pos(),
		}
	}

	table, err := CompileTable(tableVal)
	if err != nil {
		return partition.RuleTable{}, err
	}
	if err := table.Validate(); err != nil {
		return partition.RuleTable{}, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}
