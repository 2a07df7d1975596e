package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okian/paddock/internal/adapters/repository"
	service "github.com/okian/paddock/internal/app"
	"github.com/okian/paddock/internal/domain/types"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	File         string
	JSON         bool
	MinScore     float64
	MinRunners   int
	MaxRunners   int
	ExcludeTypes []string
	Sort         string
	Limit        int
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the ranked race report",
		Long: `Rank the races of the data dir snapshot (or of --file) by score and print
the desktop report table. Filter flags default to the report section of the
config.

Example:
  paddock report --min-runners 8 --exclude-types handicap --sort time`,
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, _ []string) {
			opts.defaults(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "race card file to rank instead of the snapshot")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print rows as JSON")
	cmd.Flags().Float64Var(&opts.MinScore, "min-score", 0, "hide races scoring below this")
	cmd.Flags().IntVar(&opts.MinRunners, "min-runners", 0, "hide races with fewer active runners")
	cmd.Flags().IntVar(&opts.MaxRunners, "max-runners", 0, "hide races with more active runners")
	cmd.Flags().StringSliceVar(&opts.ExcludeTypes, "exclude-types", nil, "race types to hide (comma separated)")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "order: score|time|field_size|venue")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows")

	return cmd
}

// defaults fills unset filter flags from the config.
func (o *ReportOptions) defaults(cmd *cobra.Command) {
	rc := o.Config.Report
	flags := cmd.Flags()
	if !flags.Changed("min-score") {
		o.MinScore = rc.MinScore
	}
	if !flags.Changed("min-runners") {
		o.MinRunners = rc.MinRunners
	}
	if !flags.Changed("max-runners") {
		o.MaxRunners = rc.MaxRunners
	}
	if !flags.Changed("exclude-types") {
		o.ExcludeTypes = rc.ExcludeTypes
	}
	if !flags.Changed("sort") {
		o.Sort = rc.Sort
	}
	if !flags.Changed("limit") {
		o.Limit = rc.Limit
	}
}

func (o *ReportOptions) filter() repository.Filter {
	return repository.Filter{
		MinScore:     o.MinScore,
		MinRunners:   o.MinRunners,
		MaxRunners:   o.MaxRunners,
		ExcludeTypes: o.ExcludeTypes,
		Sort:         o.Sort,
		Limit:        o.Limit,
	}
}

func runReport(cmd *cobra.Command, opts *ReportOptions) error {
	ctx := cmd.Context()
	f := opts.filter()
	if err := f.Validate(); err != nil {
		return err
	}

	p := newPipeline(opts.Config)
	records, err := loadRecords(ctx, opts.Config, p, opts.File, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ranking := repository.NewTreapStore(ctx)
	defer func() { _ = ranking.Close() }()
	for _, rec := range records {
		if _, err := ranking.Upsert(ctx, repository.SummaryOf(rec), p.Score(rec)); err != nil {
			return fmt.Errorf("rank %s: %w", rec.RaceKey, err)
		}
	}
	entries, err := ranking.Report(ctx, f)
	if err != nil {
		return err
	}
	rows := make([]types.Row, len(entries))
	for i, e := range entries {
		rows[i] = service.RowOf(e)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(types.Header, "\t"))
	loc := opts.Config.Location()
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r.Columns(loc), "\t"))
	}
	return tw.Flush()
}
