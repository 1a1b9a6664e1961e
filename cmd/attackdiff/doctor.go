package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/user/attackdiff/internal/doctor"
	"github.com/user/attackdiff/internal/report"
)

func newDoctorCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check installation and environment health",
		Long: `Check that attackdiff can run: the data directory is writable, stored
snapshots are readable, the history catalog opens and the external
scanners are installed.

Exit status is 0 when every check passes, 1 on warnings and 2 on failures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := doctor.Run(doctor.Options{
				DataDir:        a.cfg.DataDir,
				HistoryDB:      a.cfg.HistoryDB,
				HistoryEnabled: a.cfg.HistoryEnabled,
				LookPath:       a.lookPath,
			})

			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				a.printDoctor(res)
			}

			if code := res.ExitCode(); code != doctor.ExitOK {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the result as JSON")
	return cmd
}

func (a *app) printDoctor(res doctor.Result) {
	a.printf("%s\n\n", report.TitleStyle.Render("attackdiff doctor"))
	for _, c := range res.Checks {
		var marker string
		switch c.Status {
		case "pass":
			marker = report.RenderStatus(true, "pass", "")
		case "warn":
			marker = report.ChangedStyle.Render("! warn")
		default:
			marker = report.RenderStatus(false, "", "fail")
		}
		a.printf("%s %-22s %s\n", marker, c.Name, c.Message)
	}
	if len(res.FixCommands) > 0 {
		a.printf("\n%s\n", report.SectionTitleStyle.Render("Suggested fixes"))
		for _, fix := range res.FixCommands {
			a.printf("  %s\n", fix)
		}
	}
	a.printf("\n%s\n", res.Summary)
}
