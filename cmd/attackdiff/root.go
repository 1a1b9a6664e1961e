package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/user/attackdiff/internal/errors"
	"github.com/user/attackdiff/internal/scanner"
	"github.com/user/attackdiff/internal/snapshot"
	"github.com/user/attackdiff/internal/storage"
	"github.com/user/attackdiff/internal/util"
)

var version = "0.1.0"

// Exit codes by error kind.
const (
	exitOK           = 0
	exitGeneric      = 1
	exitInvalidInput = 2
	exitNotFound     = 3
	exitCorrupt      = 4
	exitIOFailure    = 5
	exitScanner      = 6
)

// app carries state shared by every command of one invocation.
type app struct {
	cfgFile string
	cfg     *util.Config
	out     io.Writer
	errOut  io.Writer

	// test seams
	runner   scanner.Runner
	now      func() time.Time
	lookPath func(string) (string, error)
}

// exitCodeError ends the process with code without printing a message.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func run(args []string, stdout, stderr io.Writer) int {
	a := &app{out: stdout, errOut: stderr, now: time.Now}
	return a.execute(args)
}

func (a *app) execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	code := exitCode(err)
	var silent *exitCodeError
	if !errors.As(err, &silent) {
		fmt.Fprintf(a.errOut, "Error: %v\n", err)
		if hint := apperrors.HintOf(err); hint != "" {
			fmt.Fprintf(a.errOut, "Hint: %s\n", hint)
		}
	}
	return code
}

func exitCode(err error) int {
	var silent *exitCodeError
	if errors.As(err, &silent) {
		return silent.code
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidInput, apperrors.KindInvalidPolicy:
		return exitInvalidInput
	case apperrors.KindNotFound, apperrors.KindInsufficientData:
		return exitNotFound
	case apperrors.KindCorrupt:
		return exitCorrupt
	case apperrors.KindIOFailure:
		return exitIOFailure
	case apperrors.KindScannerFailure:
		return exitScanner
	default:
		return exitGeneric
	}
}

// newRootCmd builds the command tree for one invocation.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "attackdiff",
		Short: "Attack surface diffing tool",
		Long: `attackdiff records scanner output as immutable, timestamped snapshots
of your attack surface and tells you what changed between them:
- new and missing hosts
- ports and services that opened or closed

Snapshots are plain JSON files; retention rules keep the store small.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "",
		"config file (default is ./attackdiff.yaml or $HOME/.attackdiff/config.yaml)")
	root.PersistentFlags().String("data-dir", "",
		"snapshot directory (default data/scans)")
	root.PersistentFlags().String("log-level", "info",
		"log level (debug, info, warn, error)")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return apperrors.Wrap(err, apperrors.KindInvalidInput, "usage", "run `"+cmd.CommandPath()+" --help` for usage")
	})

	// Add subcommands
	root.AddCommand(newScanCmd(a))
	root.AddCommand(newDiffCmd(a))
	root.AddCommand(newListCmd(a))
	root.AddCommand(newPruneCmd(a))
	root.AddCommand(newDoctorCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newUICmd(a))
	root.AddCommand(newVersionCmd(a))

	// Add shell completion
	root.AddCommand(newCompletionCmd(a))
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

func (a *app) initConfig(cmd *cobra.Command) error {
	cfg, err := util.LoadConfig(a.cfgFile, cmd.Flags())
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindInvalidInput, "config_invalid", "check the config file and ATTACKDIFF_* variables")
	}
	a.cfg = cfg

	// Initialize logger
	util.InitLogger(cfg.LogLevel, cfg.LogFile)
	util.Debug("config loaded: data_dir=%s history=%t", cfg.DataDir, cfg.HistoryEnabled)
	return nil
}

func (a *app) store() *snapshot.Store {
	return snapshot.New(a.cfg.DataDir, snapshot.WithClock(a.now))
}

// history opens the catalog when enabled. Failures only warn: the snapshot
// files stay authoritative without it.
func (a *app) history() (*storage.HistoryStorage, func()) {
	if !a.cfg.HistoryEnabled || a.cfg.HistoryDB == "" {
		return nil, func() {}
	}
	db, err := storage.Open(a.cfg.HistoryDB)
	if err != nil {
		util.Warn("history catalog unavailable: %v", err)
		return nil, func() {}
	}
	return storage.NewHistoryStorage(db), func() { _ = db.Close() }
}

func (a *app) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format, args...)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			a.printf("attackdiff version %s\n", version)
		},
	}
}

func newCompletionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `Generate shell completion script for attackdiff.

To load completions:

Bash:
  $ source <(attackdiff completion bash)

Zsh:
  $ source <(attackdiff completion zsh)

Fish:
  $ attackdiff completion fish | source

PowerShell:
  PS> attackdiff completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(a.out)
			case "zsh":
				return cmd.Root().GenZshCompletion(a.out)
			case "fish":
				return cmd.Root().GenFishCompletion(a.out, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(a.out)
			}
		},
	}
}
