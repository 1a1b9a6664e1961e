package main

import (
	"errors"

	"github.com/spf13/cobra"

	apperrors "github.com/user/attackdiff/internal/errors"
	"github.com/user/attackdiff/internal/report"
	"github.com/user/attackdiff/internal/snapshot"
	"github.com/user/attackdiff/internal/storage"
	"github.com/user/attackdiff/internal/util"
)

type pruneOptions struct {
	keepLast int
	keepDays int
	tag      string
	dryRun   bool
	force    bool
	json     bool
}

func newPruneCmd(a *app) *cobra.Command {
	opts := &pruneOptions{}
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old snapshots based on retention rules",
		Long: `Delete snapshots that no retention rule keeps.

Without --tag, tagged snapshots and unreadable files are never deleted.
With --tag, the rules apply only to snapshots carrying that tag.
Every decision is printed before anything is removed.

Examples:
  attackdiff prune --keep-last 10
  attackdiff prune --keep-days 30 --dry-run
  attackdiff prune --tag weekly --keep-last 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := snapshot.Policy{Tag: opts.tag, DryRun: opts.dryRun}
			if cmd.Flags().Changed("keep-last") {
				policy.KeepLast = &opts.keepLast
			}
			if cmd.Flags().Changed("keep-days") {
				policy.KeepDays = &opts.keepDays
			}
			if opts.force && policy.KeepLast == nil && policy.KeepDays == nil {
				zero := 0
				policy.KeepLast = &zero
			}
			return a.runPrune(policy, opts.json)
		},
	}

	cmd.Flags().IntVar(&opts.keepLast, "keep-last", 0, "Number of most recent snapshots to always keep")
	cmd.Flags().IntVar(&opts.keepDays, "keep-days", 0, "Keep snapshots newer than N days")
	cmd.Flags().StringVar(&opts.tag, "tag", "", "Only prune snapshots with this tag")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be deleted without deleting")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Allow pruning without any retention rule (DANGEROUS)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output the plan, then the result, as JSON documents")

	return cmd
}

func (a *app) runPrune(policy snapshot.Policy, asJSON bool) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	store := a.store()
	entries, err := store.Entries()
	if err != nil {
		return err
	}
	plan, err := snapshot.BuildPlan(entries, policy, a.now())
	if err != nil {
		return err
	}
	for _, e := range plan.Skipped {
		util.Warn("skipping unreadable snapshot %s: %v", e.Name, e.Err)
	}

	// The decisions are out before the first file is removed.
	if asJSON {
		if err := report.WritePlanJSON(a.out, plan); err != nil {
			return err
		}
	} else {
		a.printf("%s", report.FormatPlan(plan))
	}
	if policy.DryRun {
		a.recordPrune(plan)
		return nil
	}

	applied, applyErr := store.Apply(plan)
	if applyErr != nil && !apperrors.Is(applyErr, apperrors.KindIOFailure) {
		return applyErr
	}

	if asJSON {
		if err := report.WriteResultJSON(a.out, applied); err != nil {
			return errors.Join(err, applyErr)
		}
	} else {
		deleted := 0
		for _, d := range applied.Deletions() {
			if d.Deleted {
				deleted++
			}
		}
		a.printf("[+] Deleted %d snapshot(s)\n", deleted)
	}

	a.recordPrune(applied)
	return applyErr
}

func (a *app) recordPrune(plan snapshot.Plan) {
	hist, closeHistory := a.history()
	defer closeHistory()
	if hist == nil {
		return
	}
	mode := "global"
	if plan.Policy.Scoped() {
		mode = "tag"
	}
	run := storage.PruneRun{
		Mode:      mode,
		TagFilter: plan.Policy.Tag,
		KeepLast:  plan.Policy.KeepLast,
		KeepDays:  plan.Policy.KeepDays,
		DryRun:    plan.Policy.DryRun,
		StartedAt: plan.Now,
	}
	decisions := make([]storage.PruneDecision, 0, len(plan.Decisions))
	for _, d := range plan.Decisions {
		decisions = append(decisions, storage.PruneDecision{
			Path:    d.Path,
			Action:  string(d.Action),
			Reason:  d.Reason,
			Deleted: d.Deleted,
			Error:   d.Error,
		})
	}
	runID, err := hist.RecordPrune(run, decisions)
	if err != nil {
		util.Warn("history: %v", err)
		return
	}
	util.Debug("prune run %s recorded", runID)
}
