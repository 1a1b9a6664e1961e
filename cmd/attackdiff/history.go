package main

import (
	"github.com/spf13/cobra"

	apperrors "github.com/user/attackdiff/internal/errors"
	"github.com/user/attackdiff/internal/report"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent snapshot and prune events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return apperrors.New(apperrors.KindInvalidInput, "limit_negative", "--limit must be >= 0")
			}
			if !a.cfg.HistoryEnabled {
				return apperrors.New(apperrors.KindNotFound, "history_disabled", "the history catalog is disabled (history_enabled: false)")
			}
			hist, closeHistory := a.history()
			defer closeHistory()
			if hist == nil {
				return apperrors.New(apperrors.KindIOFailure, "history_unavailable", "cannot open history catalog "+a.cfg.HistoryDB)
			}

			if runID != "" {
				decisions, err := hist.Decisions(runID)
				if err != nil {
					return apperrors.Wrap(err, apperrors.KindIOFailure, "history_read_failed", "")
				}
				if len(decisions) == 0 {
					return apperrors.New(apperrors.KindNotFound, "prune_run_not_found", "no prune run "+runID)
				}
				a.printf("%s", report.FormatDecisions(runID, decisions))
				return nil
			}

			snaps, err := hist.RecentSnapshots(limit)
			if err != nil {
				return apperrors.Wrap(err, apperrors.KindIOFailure, "history_read_failed", "")
			}
			runs, err := hist.RecentPrunes(limit)
			if err != nil {
				return apperrors.Wrap(err, apperrors.KindIOFailure, "history_read_failed", "")
			}
			a.printf("%s", report.FormatHistory(snaps, runs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of rows per section")
	cmd.Flags().StringVar(&runID, "run", "", "Show the decisions of one prune run")
	return cmd
}
