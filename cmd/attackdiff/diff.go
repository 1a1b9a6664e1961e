package main

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/attackdiff/internal/diff"
	apperrors "github.com/user/attackdiff/internal/errors"
	"github.com/user/attackdiff/internal/fsx"
	"github.com/user/attackdiff/internal/model"
	"github.com/user/attackdiff/internal/report"
	"github.com/user/attackdiff/internal/snapshot"
	"github.com/user/attackdiff/internal/util"
)

type diffOptions struct {
	last    bool
	from    string
	to      string
	fromTag string
	toTag   string
	since   string
	json    bool
	format  string
	output  string
}

func newDiffCmd(a *app) *cobra.Command {
	opts := &diffOptions{}
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Diff two attack surface snapshots",
		Long: `Compare two snapshots and report new, missing and changed assets.

Without a selector the two newest snapshots are compared. When only the
older side is given the newest snapshot is used as the newer side.

Examples:
  attackdiff diff --last
  attackdiff diff --from 2024-01-01T00-00-00.000000Z.json
  attackdiff diff --from-tag baseline --to-tag weekly
  attackdiff diff --since baseline --format markdown -o report.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDiff(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.last, "last", false, "Diff the last two snapshots")
	cmd.Flags().StringVar(&opts.from, "from", "", "Older snapshot file (filename or path)")
	cmd.Flags().StringVar(&opts.to, "to", "", "Newer snapshot file (filename or path)")
	cmd.Flags().StringVar(&opts.fromTag, "from-tag", "", "Tag of the base snapshot")
	cmd.Flags().StringVar(&opts.toTag, "to-tag", "", "Tag of the target snapshot")
	cmd.Flags().StringVar(&opts.since, "since", "", "Diff from a tagged snapshot to the latest snapshot")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output diff as JSON")
	cmd.Flags().StringVar(&opts.format, "format", "console", "Output format (console, json, markdown)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout")

	cmd.MarkFlagsMutuallyExclusive("last", "from", "from-tag", "since")
	cmd.MarkFlagsMutuallyExclusive("json", "format")

	return cmd
}

func (a *app) runDiff(opts *diffOptions) error {
	format := strings.ToLower(strings.TrimSpace(opts.format))
	if opts.json {
		format = "json"
	}
	switch format {
	case "console", "json", "markdown":
	default:
		return apperrors.New(apperrors.KindInvalidInput, "format_unknown", "unknown format "+opts.format+" (want console, json or markdown)")
	}

	store := a.store()
	older, newer, ctx, err := a.selectPair(store, opts)
	if err != nil {
		return err
	}
	util.Debug("diffing %s -> %s", ctx.From, ctx.To)

	res := diff.Compute(older, newer)

	var buf bytes.Buffer
	switch format {
	case "json":
		if err := report.WriteDiffJSON(&buf, res); err != nil {
			return err
		}
	case "markdown":
		buf.WriteString(report.FormatDiffMarkdown(res, ctx))
	default:
		buf.WriteString(report.FormatDiffConsole(res, ctx))
	}

	if opts.output != "" {
		if err := fsx.WriteFileAtomic(opts.output, buf.Bytes(), 0o644); err != nil {
			return apperrors.Wrap(err, apperrors.KindIOFailure, "report_write_failed", "")
		}
		a.printf("[+] Report written to %s\n", opts.output)
		return nil
	}
	_, err = a.out.Write(buf.Bytes())
	return err
}

// selectPair resolves the selector flags to the older and newer asset maps.
func (a *app) selectPair(store *snapshot.Store, opts *diffOptions) (model.Assets, model.Assets, report.DiffContext, error) {
	ctx := report.DiffContext{GeneratedAt: a.now()}

	var fromPath, toPath string
	var err error
	switch {
	case opts.since != "":
		if opts.to != "" || opts.toTag != "" {
			return nil, nil, ctx, apperrors.New(apperrors.KindInvalidInput, "diff_selector_conflict", "--since always compares against the latest snapshot")
		}
		if fromPath, err = store.FindByTag(opts.since); err != nil {
			return nil, nil, ctx, err
		}
		if toPath, err = store.Latest(); err != nil {
			return nil, nil, ctx, err
		}
	case opts.from != "" || opts.fromTag != "":
		if opts.from != "" {
			fromPath, err = store.Resolve(opts.from)
		} else {
			fromPath, err = store.FindByTag(opts.fromTag)
		}
		if err != nil {
			return nil, nil, ctx, err
		}
		switch {
		case opts.to != "" && opts.toTag != "":
			return nil, nil, ctx, apperrors.New(apperrors.KindInvalidInput, "diff_selector_conflict", "use either --to or --to-tag")
		case opts.to != "":
			toPath, err = store.Resolve(opts.to)
		case opts.toTag != "":
			toPath, err = store.FindByTag(opts.toTag)
		default:
			toPath, err = store.Latest()
		}
		if err != nil {
			return nil, nil, ctx, err
		}
	case opts.to != "" || opts.toTag != "":
		return nil, nil, ctx, apperrors.New(apperrors.KindInvalidInput, "diff_from_required", "--to and --to-tag need --from or --from-tag")
	default:
		older, newer, err := store.LastTwo()
		if err != nil {
			return nil, nil, ctx, err
		}
		if paths, err := store.List(); err == nil && len(paths) >= 2 {
			ctx.From = filepath.Base(paths[len(paths)-2])
			ctx.To = filepath.Base(paths[len(paths)-1])
		}
		return older, newer, ctx, nil
	}

	older, err := store.LoadAssets(fromPath)
	if err != nil {
		return nil, nil, ctx, err
	}
	newer, err := store.LoadAssets(toPath)
	if err != nil {
		return nil, nil, ctx, err
	}
	ctx.From = filepath.Base(fromPath)
	ctx.To = filepath.Base(toPath)
	return older, newer, ctx, nil
}
