package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/pagination"
	"github.com/mbd888/tokenrisk/internal/validation"
)

func newHistoryCmd(env *environment) *cobra.Command {
	var (
		chain   string
		history string
		limit   int
		cursor  string
	)

	cmd := &cobra.Command{
		Use:   "history <token>",
		Short: "List recorded assessments of a token, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return errors.New("--limit must be positive")
			}
			canonChain, token, err := validation.NormalizeTarget(chain, args[0])
			if err != nil {
				return err
			}

			cfg, logger, err := env.load(cmd)
			if err != nil {
				return err
			}
			a := &app{cfg: cfg, logger: logger}
			defer func() { _ = a.Close() }()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			store, err := a.historyStore(ctx, history)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("no history file: pass --history or set HISTORY_FILE")
			}
			if _, err := pagination.Decode(cursor); err != nil {
				return err
			}

			items, err := store.ListByToken(ctx, canonChain, token, limit+1, assess.WithCursor(cursor))
			if err != nil {
				return err
			}
			page, next, _ := pagination.ComputePage(items, limit, assess.PageKey)

			w := cmd.OutOrStdout()
			st := newStyler(w)
			fmt.Fprintf(w, "%-20s %-28s %-12s %-10s %-7s %s\n", "REQUESTED", "ID", "PROFILE", "STATE", "SCORE", "TIER")
			for _, o := range page {
				score, tier, prof := "-", "-", o.Request.Profile
				if o.Assessment != nil {
					score = fmt.Sprintf("%.2f", o.Assessment.FinalScore)
					tier = st.tier(o.Assessment.Tier)
					prof = o.Assessment.Profile
				} else if o.Failure != nil {
					tier = st.failure(string(o.Failure.Reason))
				}
				fmt.Fprintf(w, "%-20s %-28s %-12s %-10s %-7s %s\n",
					o.Request.RequestedAt.Format(time.DateTime), o.Request.ID, prof, o.State, score, tier)
			}
			if next != "" {
				fmt.Fprintf(w, "\nmore: --cursor %s\n", next)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&chain, "chain", "ethereum", "Chain the token lives on")
	cmd.Flags().StringVar(&history, "history", "", "SQLite history file (default HISTORY_FILE)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows to show")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue from a previous page")
	return cmd
}
