package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daanvh/publicspace/internal/checkpoint"
	"github.com/daanvh/publicspace/internal/partition"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	CheckpointPath string
}

// traceResult is the JSON payload of a trace run.
type traceResult struct {
	RunToken       string                 `json:"run_token"`
	CompletedSteps int                    `json:"completed_steps"`
	LogEntries     int                    `json:"log_entries"`
	Steps          []partition.StepReport `json:"steps"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{}

	cmd := &cobra.Command{
		Use:   "trace [run-token]",
		Short: "Print per-step diagnostics from a checkpoint database",
		Long: `Reads a run's persisted step reports and commit log from a checkpoint
database. Without a run token the most recent run is traced.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) == 1 {
				token = args[0]
			}
			return runTrace(rootOpts, opts, token, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.CheckpointPath, "checkpoint", "", "SQLite checkpoint database path (required)")
	cmd.MarkFlagRequired("checkpoint")

	return cmd
}

func runTrace(rootOpts *RootOptions, opts *TraceOptions, token string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
	ctx := cmd.Context()

	store, err := checkpoint.Open(opts.CheckpointPath)
	if err != nil {
		formatter.Error(ErrCodeCheckpoint, err.Error(), nil)
		return WrapExitError(ExitCommandError, "open checkpoint database", err)
	}
	defer store.Close()

	if token == "" {
		token, err = store.LatestRun(ctx)
		if err != nil {
			formatter.Error(ErrCodeCheckpoint, err.Error(), nil)
			return WrapExitError(ExitCommandError, "no runs in database", err)
		}
	}

	state, err := store.LoadRun(ctx, token)
	if err != nil {
		formatter.Error(ErrCodeCheckpoint, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load run", err)
	}
	entries, err := store.LoadEntries(ctx, token)
	if err != nil {
		formatter.Error(ErrCodeCheckpoint, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load commit log", err)
	}
	reports, err := store.LoadReports(ctx, token)
	if err != nil {
		formatter.Error(ErrCodeCheckpoint, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load step reports", err)
	}

	result := traceResult{
		RunToken:       token,
		CompletedSteps: state.CompletedSteps,
		LogEntries:     len(entries),
		Steps:          reports,
	}
	return formatter.Success(traceText(result), result)
}

func traceText(r traceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %d completed steps, %d log entries\n", r.RunToken, r.CompletedSteps, r.LogEntries)
	for _, step := range r.Steps {
		name := step.Name
		if name == "" {
			name = step.Layer
		}
		fmt.Fprintf(&b, "  step %d %q: layer %s, %d features (%d preempted), area %.2f\n",
			step.StepID, name, step.Layer, step.FeaturesProcessed, step.FeaturesPreempted, step.AreaAssigned)
		for _, w := range step.Warnings {
			fmt.Fprintf(&b, "    warning [%s] %s: %s\n", w.Code, w.FeatureID, w.Detail)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
