package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daanvh/publicspace/internal/compiler"
	"github.com/daanvh/publicspace/internal/partition"
)

// validateResult is the JSON payload of a validate run.
type validateResult struct {
	Valid bool   `json:"valid"`
	Steps int    `json:"steps,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules.cue>",
		Short: "Compile and validate a rule table without running it",
		Long: `Compiles a CUE rule table and checks its ordering constraints: step
ids strictly increasing, every step bound to a layer, assigned
categories limited to public and private. Reports the first error with
its source position.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(rootOpts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}

	table, err := compiler.LoadTable(path)
	if err != nil {
		detail := validateResult{Valid: false, Error: err.Error()}

		var cErr *compiler.CompileError
		var soErr *partition.StepOrderError
		switch {
		case errors.As(err, &cErr), errors.As(err, &soErr):
			formatter.Error(ErrCodeCompile, err.Error(), detail)
			return WrapExitError(ExitFailure, "rule table invalid", err)
		default:
			formatter.Error(ErrCodeGeneric, err.Error(), detail)
			return WrapExitError(ExitCommandError, "load rule table", err)
		}
	}

	text := fmt.Sprintf("%s: valid (%d steps)", path, len(table.Steps))
	return formatter.Success(text, validateResult{Valid: true, Steps: len(table.Steps)})
}
