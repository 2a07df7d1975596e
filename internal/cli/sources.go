package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/okian/paddock/internal/domain/model"
)

// NewSourcesCommand creates the sources command group.
func NewSourcesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect configured sources",
	}
	cmd.AddCommand(newSourcesListCommand(rootOpts))
	cmd.AddCommand(newSourcesFetchCommand(rootOpts))
	return cmd
}

func newSourcesListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			specs, err := opts.Config.Specs()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tTIER\tTIMEZONE\tURL")
			for _, s := range specs {
				tz := s.Timezone
				if tz == "" {
					tz = "UTC"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.Tier, tz, s.URL)
			}
			return tw.Flush()
		},
	}
}

func newSourcesFetchCommand(opts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fetch <source-id>",
		Short: "Fetch one source once and print the documents it yields",
		Long: `Fetch one source through the resilient fetcher and parse it. Nothing is
merged. Useful to check selectors against a live page.

Example:
  paddock sources fetch cards --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := buildRegistry(opts.Config)
			if err != nil {
				return err
			}
			a, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			docs, err := a.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			return writeDocuments(cmd, docs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print documents as JSON")
	return cmd
}

func writeDocuments(cmd *cobra.Command, docs []model.RawDocument, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RACE\tSOURCE\tFIELDS\tRUNNERS")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", d.RaceKey, d.SourceID, len(d.Fields), len(d.Runners))
	}
	return tw.Flush()
}
