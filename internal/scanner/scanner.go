// Package scanner produces asset mappings from external discovery tools and
// from a built-in TCP connect scan.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	apperrors "github.com/user/attackdiff/internal/errors"
	"github.com/user/attackdiff/internal/model"
)

// Scanner discovers assets for a list of targets. Every returned asset is
// normalized.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, targets []string) (model.Assets, error)
}

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, msg)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, name, args...) // #nosec G204 -- scanner binaries and args come from the operator.
	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	command.Stdout = &stdoutBuf
	command.Stderr = &stderrBuf
	if stdin != nil {
		command.Stdin = bytes.NewReader(stdin)
	}
	err := command.Run()
	if err != nil {
		exitErr := &exec.ExitError{}
		if errors.As(err, &exitErr) {
			return stdoutBuf.Bytes(), &ExitError{
				Command:  name,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderrBuf.String(),
			}
		}
		return stdoutBuf.Bytes(), fmt.Errorf("run %s: %w", name, err)
	}
	return stdoutBuf.Bytes(), nil
}

// failure classifies err as a scanner failure for the named scanner.
func failure(scanner string, err error) error {
	if err == nil {
		return nil
	}
	hint := ""
	if errors.Is(err, exec.ErrNotFound) {
		hint = fmt.Sprintf("install %s or run `attackdiff doctor`", scanner)
	}
	return apperrors.Wrap(fmt.Errorf("%s scan failed: %w", scanner, err), apperrors.KindScannerFailure, "scanner_failed", hint)
}

// SplitArgs splits a configured argument string with shell quoting rules:
// single and double quotes, backslash escapes and # comments.
func SplitArgs(value string) ([]string, error) {
	args, err := shlex.Split(value)
	if err != nil {
		return nil, apperrors.Wrap(fmt.Errorf("split %q: %w", value, err), apperrors.KindInvalidInput, "scanner_args_unbalanced", "check the quoting of the extra scanner arguments")
	}
	return args, nil
}

// options shared by the subprocess scanners.
type base struct {
	runner Runner
	extra  []string
	now    func() time.Time
}

// Option configures a subprocess scanner.
type Option func(*base)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(b *base) {
		if r != nil {
			b.runner = r
		}
	}
}

// WithArgs appends extra command line arguments.
func WithArgs(args ...string) Option {
	return func(b *base) {
		b.extra = append(b.extra, args...)
	}
}

// WithClock overrides the clock used for first and last seen times.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

func newBase(opts []Option) base {
	b := base{runner: ExecRunner{}, now: time.Now}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func cleanTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func requireTargets(targets []string) ([]string, error) {
	cleaned := cleanTargets(targets)
	if len(cleaned) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidInput, "scan_targets_empty", "at least one scan target is required")
	}
	return cleaned, nil
}
