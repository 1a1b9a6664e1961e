package main

import (
	"github.com/spf13/cobra"

	"github.com/user/attackdiff/internal/tui"
)

func newUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Browse snapshots and diffs interactively",
		Long: `Open a terminal browser over the snapshot store.

Mark two snapshots with space and press enter to diff them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.NewApp(a.store()).Run()
		},
	}
}
