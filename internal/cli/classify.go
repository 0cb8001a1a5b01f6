package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/daanvh/publicspace/internal/checkpoint"
	"github.com/daanvh/publicspace/internal/compiler"
	"github.com/daanvh/publicspace/internal/engine"
	"github.com/daanvh/publicspace/internal/export"
	"github.com/daanvh/publicspace/internal/geometry"
	"github.com/daanvh/publicspace/internal/layers"
	"github.com/daanvh/publicspace/internal/partition"
)

// Error codes for CLI output.
const (
	ErrCodeGeneric    = "E001"
	ErrCodeCompile    = "E002"
	ErrCodeRun        = "E003"
	ErrCodeCheckpoint = "E004"
)

// ClassifyOptions holds flags for the classify command.
type ClassifyOptions struct {
	AOIPath        string
	RulesPath      string
	DataDir        string
	OutPath        string
	CheckpointPath string
	Resume         bool
	Workers        int
	SliverRatio    float64
	AbortOnNoMatch bool
}

// classifySummary is the JSON payload of a successful classification.
type classifySummary struct {
	RunToken       string                 `json:"run_token"`
	AOIArea        float64                `json:"aoi_area"`
	PublicArea     float64                `json:"public_area"`
	PrivateArea    float64                `json:"private_area"`
	UnassignedArea float64                `json:"unassigned_area"`
	Output         string                 `json:"output,omitempty"`
	Steps          []partition.StepReport `json:"steps"`
	LoadWarnings   []partition.Warning    `json:"load_warnings,omitempty"`
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClassifyOptions{}

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Run a rule table over source layers and export the partition",
		Long: `Classifies the area of interest by executing the rule table's steps in
order over GeoJSON source layers. With --checkpoint each completed step
is persisted; --resume continues the most recent interrupted run from
the same database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AOIPath, "aoi", "", "path to area-of-interest WKT file (required)")
	cmd.Flags().StringVar(&opts.RulesPath, "rules", "", "path to rule table CUE file (required)")
	cmd.Flags().StringVar(&opts.DataDir, "data", "", "directory with one GeoJSON file per layer (required)")
	cmd.Flags().StringVar(&opts.OutPath, "out", "", "output GeoJSON path (omit to skip export)")
	cmd.Flags().StringVar(&opts.CheckpointPath, "checkpoint", "", "SQLite checkpoint database path")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "resume the latest run from --checkpoint")
	cmd.Flags().IntVar(&opts.Workers, "workers", engine.DefaultWorkers, "intra-step worker count")
	cmd.Flags().Float64Var(&opts.SliverRatio, "sliver-ratio", engine.DefaultSliverRatio, "sliver tolerance as a fraction of AOI area")
	cmd.Flags().BoolVar(&opts.AbortOnNoMatch, "abort-on-no-match", false, "treat unmapped attribute values as fatal")
	cmd.MarkFlagRequired("aoi")
	cmd.MarkFlagRequired("rules")
	cmd.MarkFlagRequired("data")

	return cmd
}

func runClassify(rootOpts *RootOptions, opts *ClassifyOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
	ctx := cmd.Context()

	if opts.Resume && opts.CheckpointPath == "" {
		formatter.Error(ErrCodeCheckpoint, "--resume requires --checkpoint", nil)
		return WrapExitError(ExitCommandError, "resume without checkpoint database", nil)
	}

	aoi, err := loadAOI(opts.AOIPath)
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load area of interest", err)
	}

	table, err := compiler.LoadTable(opts.RulesPath)
	if err != nil {
		formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitFailure, "compile rule table", err)
	}

	loader := layers.NewDirLoader(opts.DataDir, aoi)

	engineOpts := []engine.Option{
		engine.WithWorkers(opts.Workers),
		engine.WithSliverTolerance(opts.SliverRatio),
	}
	if opts.AbortOnNoMatch {
		engineOpts = append(engineOpts, engine.WithNoMatchPolicy(engine.NoMatchAbort))
	}

	var eng *engine.Engine
	if opts.CheckpointPath != "" {
		store, err := checkpoint.Open(opts.CheckpointPath)
		if err != nil {
			formatter.Error(ErrCodeCheckpoint, err.Error(), nil)
			return WrapExitError(ExitCommandError, "open checkpoint database", err)
		}
		defer store.Close()

		eng, err = buildCheckpointed(ctx, store, aoi, table, loader, opts, engineOpts)
		if err != nil {
			formatter.Error(ErrCodeCheckpoint, err.Error(), nil)
			return WrapExitError(ExitCommandError, "prepare checkpointed run", err)
		}
	} else {
		eng, err = engine.New(aoi, table, loader, engineOpts...)
		if err != nil {
			formatter.Error(ErrCodeRun, err.Error(), nil)
			return WrapExitError(ExitFailure, "initialize engine", err)
		}
	}

	out, err := eng.Run(ctx)
	if err != nil {
		formatter.Error(ErrCodeRun, err.Error(), eng.Reports())
		return WrapExitError(ExitFailure, "classification run", err)
	}

	if opts.OutPath != "" {
		if err := export.WriteGeoJSONFile(opts.OutPath, out); err != nil {
			formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "export", err)
		}
	}

	summary := classifySummary{
		RunToken:       eng.RunToken(),
		AOIArea:        out.AOIArea,
		PublicArea:     out.Area(partition.CategoryPublic),
		PrivateArea:    out.Area(partition.CategoryPrivate),
		UnassignedArea: out.Area(partition.CategoryUnassigned),
		Output:         opts.OutPath,
		Steps:          out.Reports,
		LoadWarnings:   loader.Warnings(),
	}
	return formatter.Success(summaryText(summary), summary)
}

// buildCheckpointed wires a checkpoint store into a fresh or resumed
// engine. A fresh run registers its token before the first step; a
// resumed run replays the persisted log, keeps the original run's AOI
// and sliver tolerance, and continues at the saved cursor.
func buildCheckpointed(ctx context.Context, store *checkpoint.Store, aoi geometry.Polygonal, table partition.RuleTable, loader engine.LayerLoader, opts *ClassifyOptions, engineOpts []engine.Option) (*engine.Engine, error) {
	if opts.Resume {
		token, err := store.LatestRun(ctx)
		if err != nil {
			return nil, err
		}
		state, err := store.LoadRun(ctx, token)
		if err != nil {
			return nil, err
		}
		entries, err := store.LoadEntries(ctx, token)
		if err != nil {
			return nil, err
		}
		writer, err := store.StartRun(ctx, token, state.AOI, state.SliverRatio)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts,
			engine.WithSliverTolerance(state.SliverRatio),
			engine.WithCheckpointer(writer))
		return engine.Resume(state.AOI, table, loader, token, entries, state.CompletedSteps, engineOpts...)
	}

	token := uuid.Must(uuid.NewV7()).String()
	writer, err := store.StartRun(ctx, token, aoi, opts.SliverRatio)
	if err != nil {
		return nil, err
	}
	engineOpts = append(engineOpts,
		engine.WithTokenGenerator(engine.FixedGenerator{Token: token}),
		engine.WithCheckpointer(writer))
	return engine.New(aoi, table, loader, engineOpts...)
}

func loadAOI(path string) (geometry.Polygonal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("read aoi: %w", err)
	}
	aoi, err := geometry.FromWKT(strings.TrimSpace(string(data)))
	if err != nil {
		return geometry.Polygonal{}, fmt.Errorf("parse aoi wkt: %w", err)
	}
	return aoi, nil
}

func summaryText(s classifySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s finished\n", s.RunToken)
	fmt.Fprintf(&b, "  aoi area:        %.2f\n", s.AOIArea)
	fmt.Fprintf(&b, "  public area:     %.2f\n", s.PublicArea)
	fmt.Fprintf(&b, "  private area:    %.2f\n", s.PrivateArea)
	fmt.Fprintf(&b, "  unassigned area: %.2f\n", s.UnassignedArea)
	for _, step := range s.Steps {
		fmt.Fprintf(&b, "  step %d (%s): %d features, %d preempted, area %.2f, %d warnings\n",
			step.StepID, step.Layer, step.FeaturesProcessed, step.FeaturesPreempted,
			step.AreaAssigned, len(step.Warnings))
	}
	if s.Output != "" {
		fmt.Fprintf(&b, "  written to %s", s.Output)
	}
	return strings.TrimRight(b.String(), "\n")
}
