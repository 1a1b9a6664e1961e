package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/attackdiff/internal/report"
	"github.com/user/attackdiff/internal/snapshot"
	"github.com/user/attackdiff/internal/util"
)

func newListCmd(a *app) *cobra.Command {
	var (
		short bool
		long  bool
		tag   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available scan snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.store().Entries()
			if err != nil {
				return err
			}
			if tag = strings.TrimSpace(tag); tag != "" {
				filtered := entries[:0]
				for _, e := range entries {
					if !e.Corrupt() && e.Meta.Tag == tag {
						filtered = append(filtered, e)
					}
				}
				entries = filtered
			}

			opts := report.ListOptions{Short: short, Long: long}
			if long {
				opts.Digests = digests(a.store(), entries)
			}
			a.printf("%s", report.FormatSnapshotList(entries, opts))
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Only display snapshot filenames")
	cmd.Flags().BoolVar(&long, "long", false, "Also show scanner and surface digest")
	cmd.Flags().StringVar(&tag, "tag", "", "Only list snapshots with this tag")
	cmd.MarkFlagsMutuallyExclusive("short", "long")

	return cmd
}

func digests(store *snapshot.Store, entries []snapshot.Entry) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Corrupt() {
			continue
		}
		assets, err := store.LoadAssets(e.Path)
		if err != nil {
			util.Debug("digest %s: %v", e.Name, err)
			continue
		}
		sum, err := snapshot.Digest(assets)
		if err != nil {
			util.Debug("digest %s: %v", e.Name, err)
			continue
		}
		out[e.Path] = sum
	}
	return out
}
