package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/report"
)

var errNoSource = errors.New("no signal source: pass --payloads or configure PAYLOAD_DIR or provider URLs")

// Output formats for single assessments.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func newAssessCmd(env *environment) *cobra.Command {
	var (
		chain    string
		profile  string
		payloads string
		output   string
		history  string
	)

	cmd := &cobra.Command{
		Use:   "assess <token>",
		Short: "Assess one token",
		Long: "Collects signals for a token and prints the scored assessment with its explanation.\n" +
			"Exits non-zero when the assessment fails.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case outputText, outputJSON, outputYAML:
			default:
				return fmt.Errorf("unknown output format %q", output)
			}

			cfg, logger, err := env.load(cmd)
			if err != nil {
				return err
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

			out := a.orchestrator(opts...).AssessOutcome(ctx, assess.NewRequest(args[0], chain, profile))

			w := cmd.OutOrStdout()
			switch output {
			case outputJSON:
				err = report.WriteJSON(w, []assess.Outcome{*out})
			case outputYAML:
				err = report.WriteYAML(w, []assess.Outcome{*out})
			default:
				err = writeOutcome(w, newStyler(w), out)
			}
			if err != nil {
				return err
			}
			if out.Failure != nil {
				return fmt.Errorf("assessment failed: %w", out.Failure)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&chain, "chain", "ethereum", "Chain the token lives on")
	cmd.Flags().StringVar(&profile, "profile", "", "Risk profile (default DEFAULT_PROFILE)")
	cmd.Flags().StringVar(&payloads, "payloads", "", "Directory of pre-fetched provider payloads")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, json or yaml")
	cmd.Flags().StringVar(&history, "history", "", "SQLite file to record the outcome in (default HISTORY_FILE)")
	return cmd
}
