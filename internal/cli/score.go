package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/internal/domain/scoring"
	"github.com/okian/paddock/pkg/logger"
)

// ScoreOptions holds flags for the score command.
type ScoreOptions struct {
	*RootOptions
	File string
	JSON bool
}

// NewScoreCommand creates the score command.
func NewScoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "score [race-key...]",
		Short: "Explain the score of races",
		Long: `Score races with the configured weights and track profiles and print the
signal values and reasons behind each total. Races come from the data dir
snapshot, or from a race card file with --file ("-" reads stdin).

Example:
  paddock score ascot::2026-10-18::r03
  paddock score --file card.txt --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "race card file to score instead of the snapshot")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print score results as JSON")

	return cmd
}

func runScore(cmd *cobra.Command, opts *ScoreOptions, keys []string) error {
	ctx := cmd.Context()
	p := newPipeline(opts.Config)

	records, err := loadRecords(ctx, opts.Config, p, opts.File, cmd.InOrStdin())
	if err != nil {
		return err
	}
	selected, err := selectRecords(records, keys)
	if err != nil {
		return err
	}

	results := make([]model.ScoreResult, len(selected))
	for i, rec := range selected {
		results[i] = p.Score(rec)
	}
	logger.Named("score").Debug(ctx, "scored races", logger.Int("races", len(results)))
	return writeScores(cmd.OutOrStdout(), results, opts.JSON)
}

// selectRecords keeps the records named by keys, in key order. No keys
// selects everything.
func selectRecords(records []model.RaceRecord, keys []string) ([]model.RaceRecord, error) {
	if len(keys) == 0 {
		return records, nil
	}
	byKey := make(map[string]model.RaceRecord, len(records))
	for _, rec := range records {
		byKey[rec.RaceKey] = rec
	}
	out := make([]model.RaceRecord, 0, len(keys))
	for _, k := range keys {
		rec, ok := byKey[k]
		if !ok {
			return nil, fmt.Errorf("race %s not found", k)
		}
		out = append(out, rec)
	}
	return out, nil
}

func writeScores(w io.Writer, results []model.ScoreResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for i, r := range results {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, scoring.Explain(r)); err != nil {
			return err
		}
	}
	return nil
}
