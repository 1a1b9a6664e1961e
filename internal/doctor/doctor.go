// Package doctor checks that attackdiff can run: a writable data directory,
// readable snapshots and the external scanner binaries.
package doctor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/user/attackdiff/internal/snapshot"
	"github.com/user/attackdiff/internal/storage"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

// Exit codes returned by Result.ExitCode.
const (
	ExitOK       = 0
	ExitWarnings = 1
	ExitFailures = 2
)

// RequiredScanners are the external binaries the scan command can drive.
var RequiredScanners = []string{
	"nmap",
	"subfinder",
	"amass",
	"httpx",
}

type Options struct {
	DataDir        string
	HistoryDB      string
	HistoryEnabled bool
	Scanners       []string
	// LookPath resolves scanner binaries; defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

type Result struct {
	CreatedAt   string   `json:"created_at"`
	Status      string   `json:"status"`
	Summary     string   `json:"summary"`
	FixCommands []string `json:"fix_commands"`
	Checks      []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
}

// ExitCode maps the overall status to 0 (ok), 1 (warnings) or 2 (failures).
func (r Result) ExitCode() int {
	switch r.Status {
	case statusFail:
		return ExitFailures
	case statusWarn:
		return ExitWarnings
	default:
		return ExitOK
	}
}

func Run(opts Options) Result {
	dataDir := strings.TrimSpace(opts.DataDir)
	if dataDir == "" {
		dataDir = snapshot.DefaultDir
	}
	scanners := opts.Scanners
	if scanners == nil {
		scanners = RequiredScanners
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	checks := []Check{
		checkRuntime(),
		checkDataDirWritable(dataDir),
	}
	checks = append(checks, checkSnapshots(dataDir)...)
	if opts.HistoryEnabled && strings.TrimSpace(opts.HistoryDB) != "" {
		checks = append(checks, checkHistory(opts.HistoryDB))
	}
	for _, name := range scanners {
		checks = append(checks, checkScanner(name, lookPath))
	}

	failed := 0
	warned := 0
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case statusFail:
			failed++
		case statusWarn:
			warned++
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := statusPass
	if failed > 0 {
		status = statusFail
	} else if warned > 0 {
		status = statusWarn
	}

	sort.Strings(fixCommands)
	summary := fmt.Sprintf("doctor: status=%s failed=%d warned=%d", status, failed, warned)

	return Result{
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Status:      status,
		Summary:     summary,
		FixCommands: fixCommands,
		Checks:      checks,
	}
}

func checkRuntime() Check {
	return Check{
		Name:    "runtime",
		Status:  statusPass,
		Message: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkDataDirWritable(dataDir string) Check {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Check{
			Name:       "data_dir",
			Status:     statusFail,
			Message:    fmt.Sprintf("data dir not accessible: %v", err),
			FixCommand: fmt.Sprintf("mkdir -p %s", shellQuote(dataDir)),
		}
	}
	testPath := filepath.Join(dataDir, ".write_test")
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return Check{
			Name:       "data_dir",
			Status:     statusFail,
			Message:    fmt.Sprintf("data dir not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(dataDir)),
		}
	}
	_ = os.Remove(testPath)
	return Check{
		Name:    "data_dir",
		Status:  statusPass,
		Message: fmt.Sprintf("writable: %s", dataDir),
	}
}

func checkSnapshots(dataDir string) []Check {
	entries, err := snapshot.New(dataDir).Entries()
	if err != nil {
		return []Check{{
			Name:    "snapshots",
			Status:  statusFail,
			Message: fmt.Sprintf("cannot enumerate snapshots: %v", err),
		}}
	}
	if len(entries) == 0 {
		return []Check{{
			Name:       "snapshots",
			Status:     statusWarn,
			Message:    "no snapshots found",
			FixCommand: "attackdiff scan --scanner nmap --targets <ip>",
		}}
	}
	var checks []Check
	for _, e := range entries {
		if e.Corrupt() {
			checks = append(checks, Check{
				Name:       "snapshots",
				Status:     statusFail,
				Message:    fmt.Sprintf("corrupted snapshot: %s", e.Name),
				FixCommand: fmt.Sprintf("rm %s", shellQuote(e.Path)),
			})
		}
	}
	if len(checks) == 0 {
		checks = append(checks, Check{
			Name:    "snapshots",
			Status:  statusPass,
			Message: fmt.Sprintf("%d snapshot(s) OK", len(entries)),
		})
	}
	return checks
}

func checkHistory(path string) Check {
	db, err := storage.Open(path)
	if err != nil {
		return Check{
			Name:    "history",
			Status:  statusWarn,
			Message: fmt.Sprintf("history catalog unavailable: %v", err),
		}
	}
	_ = db.Close()
	return Check{
		Name:    "history",
		Status:  statusPass,
		Message: fmt.Sprintf("catalog: %s", path),
	}
}

func checkScanner(name string, lookPath func(string) (string, error)) Check {
	path, err := lookPath(name)
	if err != nil {
		return Check{
			Name:    "scanner:" + name,
			Status:  statusWarn,
			Message: fmt.Sprintf("%s not found", name),
		}
	}
	return Check{
		Name:    "scanner:" + name,
		Status:  statusPass,
		Message: path,
	}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " \t\n'\"\\$`") {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
