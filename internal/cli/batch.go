package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/report"
	"github.com/mbd888/tokenrisk/internal/score"
)

func newBatchCmd(env *environment) *cobra.Command {
	var (
		input    string
		outputs  []string
		profile  string
		payloads string
		history  string
		failOn   string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Assess every token in a CSV file",
		Long: "Reads a CSV with an address (or token) column and optional chain and profile columns,\n" +
			"assesses every row and writes one report per --output path. The format follows the\n" +
			"extension: .csv, .json, .yaml or .yml. A failed row never stops the others.",
		Example: "  tokenrisk batch --input tokens.csv --output report.csv --output report.json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var threshold score.Tier
			if failOn != "" {
				t, err := score.ParseTier(failOn)
				if err != nil {
					return err
				}
				threshold = t
			}
			for _, path := range outputs {
				if _, err := report.FormatOf(path); err != nil {
					return err
				}
			}

			cfg, logger, err := env.load(cmd)
			if err != nil {
				return err
			}

			rows, warnings, err := report.ReadTokensFile(input)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				logger.Warn("input row", "line", w.Line, "token", w.Token, "warning", w.Message)
			}
			if len(rows) == 0 {
				return fmt.Errorf("%s has no token rows", input)
			}

			a, err := newApp(cfg, logger, payloads)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if a.collector == nil {
				return errNoSource
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			var opts []assess.Option
			store, err := a.historyStore(ctx, history)
			if err != nil {
				return err
			}
			if store != nil {
				opts = append(opts, assess.WithStore(store))
			}

			reqs := make([]assess.Request, 0, len(rows))
			for _, row := range rows {
				p := row.Profile
				if p == "" {
					p = profile
				}
				reqs = append(reqs, assess.NewRequest(row.Token, row.Chain, p))
			}
			outcomes := a.orchestrator(opts...).Batch(ctx, reqs)

			for _, path := range outputs {
				if err := report.WriteFile(path, outcomes); err != nil {
					return err
				}
				logger.Info("report written", "path", path, "rows", len(outcomes))
			}

			if err := report.Summarize(outcomes).WriteText(cmd.OutOrStdout()); err != nil {
				return err
			}

			if threshold != "" {
				if n := countAtOrAbove(outcomes, threshold); n > 0 {
					return fmt.Errorf("%d token(s) at or above %s", n, threshold)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV file of tokens to assess")
	cmd.Flags().StringArrayVarP(&outputs, "output", "o", nil, "Report file; repeat for several formats")
	cmd.Flags().StringVar(&profile, "profile", "", "Profile for rows without one (default DEFAULT_PROFILE)")
	cmd.Flags().StringVar(&payloads, "payloads", "", "Directory of pre-fetched provider payloads")
	cmd.Flags().StringVar(&history, "history", "", "SQLite file to record outcomes in (default HISTORY_FILE)")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "Exit non-zero when any token reaches this tier")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func countAtOrAbove(outcomes []assess.Outcome, threshold score.Tier) int {
	floor := threshold.Rank()
	n := 0
	for _, o := range outcomes {
		if o.Assessment != nil && o.Assessment.Tier.Rank() >= floor {
			n++
		}
	}
	return n
}
