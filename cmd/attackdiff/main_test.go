package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/attackdiff/internal/storage"
)

const (
	grepableBefore = "Host: 10.0.0.1 ()\tPorts: 22/open/tcp//ssh///, 80/open/tcp//http///\n" +
		"Host: 10.0.0.2 ()\tPorts: 443/open/tcp//https///\n"
	grepableAfter = "Host: 10.0.0.1 ()\tPorts: 22/open/tcp//ssh///, 8080/open/tcp//http-proxy///\n" +
		"Host: 10.0.0.3 ()\tPorts: 25/open/tcp//smtp///\n"
)

type stubRunner struct {
	output []byte
	err    error
	calls  int
}

func (s *stubRunner) Run(_ context.Context, _ []byte, _ string, _ ...string) ([]byte, error) {
	s.calls++
	return s.output, s.err
}

type harness struct {
	t       *testing.T
	dataDir string
	config  string
	histDB  string
	runner  *stubRunner
	clock   time.Time
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	// onWrite, when set, sees every write to stdout before it lands.
	onWrite func(p []byte)
}

type watchWriter struct {
	w  io.Writer
	fn func(p []byte)
}

func (w *watchWriter) Write(p []byte) (int, error) {
	w.fn(p)
	return w.w.Write(p)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)

	cfgPath := filepath.Join(root, "attackdiff.yaml")
	histDB := filepath.Join(root, "history.db")
	cfg := "history_db: " + histDB + "\nlog_level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	return &harness{
		t:       t,
		dataDir: filepath.Join(root, "scans"),
		config:  cfgPath,
		histDB:  histDB,
		runner:  &stubRunner{},
		clock:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (h *harness) run(args ...string) int {
	h.t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	var out io.Writer = &h.stdout
	if h.onWrite != nil {
		out = &watchWriter{w: &h.stdout, fn: h.onWrite}
	}
	a := &app{
		out:    out,
		errOut: &h.stderr,
		runner: h.runner,
		now: func() time.Time {
			h.clock = h.clock.Add(time.Hour)
			return h.clock
		},
		lookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil },
	}
	args = append(args, "--config", h.config, "--data-dir", h.dataDir)
	return a.execute(args)
}

func (h *harness) scan(output string, extra ...string) {
	h.t.Helper()
	h.runner.output = []byte(output)
	args := append([]string{"scan", "--scanner", "nmap", "--targets", "10.0.0.0/24"}, extra...)
	require.Equal(h.t, exitOK, h.run(args...), h.stderr.String())
}

func (h *harness) snapshots() []string {
	h.t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.dataDir, "*.json"))
	require.NoError(h.t, err)
	return matches
}

func TestScanSavesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore, "--tag", "baseline")

	assert.Contains(t, h.stdout.String(), "Snapshot saved")
	assert.Contains(t, h.stdout.String(), "(2 assets)")
	require.Len(t, h.snapshots(), 1)
	assert.Equal(t, 1, h.runner.calls)

	require.Equal(t, exitOK, h.run("list"))
	assert.Contains(t, h.stdout.String(), "baseline")

	require.Equal(t, exitOK, h.run("history"))
	assert.Contains(t, h.stdout.String(), filepath.Base(h.snapshots()[0]))
}

func TestScanRejectsHTTPXWithoutSubfinder(t *testing.T) {
	h := newHarness(t)
	code := h.run("scan", "--scanner", "nmap", "--targets", "10.0.0.1", "--httpx")
	assert.Equal(t, exitInvalidInput, code)
	assert.Zero(t, h.runner.calls)
	assert.Empty(t, h.snapshots())
}

func TestScanUnknownScanner(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitInvalidInput, h.run("scan", "--scanner", "masscan", "--targets", "10.0.0.1"))
	assert.Contains(t, h.stderr.String(), "unknown scanner")
}

func TestScanFailureExitCode(t *testing.T) {
	h := newHarness(t)
	h.runner.err = errors.New("boom")
	assert.Equal(t, exitScanner, h.run("scan", "--scanner", "nmap", "--targets", "10.0.0.1"))
	assert.Empty(t, h.snapshots())
}

func TestDiffLastJSON(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore)
	h.scan(grepableAfter)

	require.Equal(t, exitOK, h.run("diff", "--json"), h.stderr.String())

	var doc struct {
		NewAssets     map[string]json.RawMessage `json:"new_assets"`
		MissingAssets map[string]json.RawMessage `json:"missing_assets"`
		ChangedAssets []struct {
			Host         string `json:"host"`
			PortsAdded   []int  `json:"ports_added"`
			PortsRemoved []int  `json:"ports_removed"`
		} `json:"changed_assets"`
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &doc))
	assert.Contains(t, doc.NewAssets, "10.0.0.3")
	assert.Contains(t, doc.MissingAssets, "10.0.0.2")
	require.Len(t, doc.ChangedAssets, 1)
	assert.Equal(t, "10.0.0.1", doc.ChangedAssets[0].Host)
	assert.Equal(t, []int{8080}, doc.ChangedAssets[0].PortsAdded)
	assert.Equal(t, []int{80}, doc.ChangedAssets[0].PortsRemoved)
}

func TestDiffSelectors(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore, "--tag", "baseline")
	h.scan(grepableBefore)

	require.Equal(t, exitOK, h.run("diff", "--since", "baseline"))
	assert.Contains(t, h.stdout.String(), "No changes detected")

	first := filepath.Base(h.snapshots()[0])
	require.Equal(t, exitOK, h.run("diff", "--from", first, "--format", "markdown"))
	assert.Contains(t, h.stdout.String(), "# Attack Surface Diff")
	assert.Contains(t, h.stdout.String(), "No changes detected.")

	out := filepath.Join(t.TempDir(), "report.md")
	require.Equal(t, exitOK, h.run("diff", "--from-tag", "baseline", "--format", "markdown", "-o", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestDiffErrors(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitNotFound, h.run("diff"))

	h.scan(grepableBefore)
	assert.Equal(t, exitNotFound, h.run("diff", "--last"))
	assert.Equal(t, exitInvalidInput, h.run("diff", "--to", filepath.Base(h.snapshots()[0])))
	assert.Equal(t, exitNotFound, h.run("diff", "--from", "missing.json"))
	assert.Equal(t, exitNotFound, h.run("diff", "--since", "nope"))
	assert.Equal(t, exitInvalidInput, h.run("diff", "--format", "xml"))
}

func TestDiffCorruptSnapshot(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore)
	h.scan(grepableAfter)
	require.NoError(t, os.WriteFile(h.snapshots()[1], []byte("{not json"), 0o644))

	assert.Equal(t, exitCorrupt, h.run("diff"))
}

func TestPrune(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore, "--tag", "baseline")
	for i := 0; i < 3; i++ {
		h.scan(grepableAfter)
	}
	require.Len(t, h.snapshots(), 4)

	assert.Equal(t, exitInvalidInput, h.run("prune"))
	assert.Equal(t, exitInvalidInput, h.run("prune", "--keep-last", "-1"))

	require.Equal(t, exitOK, h.run("prune", "--keep-last", "1", "--dry-run"))
	assert.Contains(t, h.stdout.String(), "Prune plan (dry run)")
	assert.Contains(t, h.stdout.String(), "2 kept, 2 to delete")
	require.Len(t, h.snapshots(), 4)

	require.Equal(t, exitOK, h.run("prune", "--keep-last", "1"))
	assert.Contains(t, h.stdout.String(), "Deleted 2 snapshot(s)")
	require.Len(t, h.snapshots(), 2)

	require.Equal(t, exitOK, h.run("history"))
	assert.Contains(t, h.stdout.String(), "deleted 2")
}

type pruneDocument struct {
	Phase     string `json:"phase"`
	KeepLast  *int   `json:"keep_last"`
	Decisions []struct {
		Action  string `json:"action"`
		Reason  string `json:"reason"`
		Deleted bool   `json:"deleted"`
	} `json:"decisions"`
}

func decodePruneDocuments(t *testing.T, data []byte) []pruneDocument {
	t.Helper()
	var docs []pruneDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var doc pruneDocument
		require.NoError(t, dec.Decode(&doc))
		docs = append(docs, doc)
	}
	return docs
}

func TestPruneForceKeepsTagged(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore, "--tag", "baseline")
	h.scan(grepableAfter)

	require.Equal(t, exitOK, h.run("prune", "--force", "--json"))
	docs := decodePruneDocuments(t, h.stdout.Bytes())
	require.Len(t, docs, 2)

	planned, result := docs[0], docs[1]
	assert.Equal(t, "plan", planned.Phase)
	assert.Equal(t, "result", result.Phase)
	require.NotNil(t, result.KeepLast)
	assert.Equal(t, 0, *result.KeepLast)

	require.Len(t, planned.Decisions, 2)
	assert.False(t, planned.Decisions[1].Deleted)
	require.Len(t, result.Decisions, 2)
	assert.Equal(t, "tag=baseline", result.Decisions[0].Reason)
	assert.True(t, result.Decisions[1].Deleted)
	require.Len(t, h.snapshots(), 1)
}

func TestPruneJSONReportsBeforeDeleting(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.scan(grepableBefore)
	}
	require.Len(t, h.snapshots(), 3)

	var writes, filesAtFirstWrite int
	h.onWrite = func([]byte) {
		writes++
		if writes == 1 {
			filesAtFirstWrite = len(h.snapshots())
		}
	}
	require.Equal(t, exitOK, h.run("prune", "--keep-last", "1", "--json"))

	assert.Equal(t, 3, filesAtFirstWrite)
	assert.Len(t, h.snapshots(), 1)
	docs := decodePruneDocuments(t, h.stdout.Bytes())
	require.Len(t, docs, 2)
	assert.Equal(t, "plan", docs[0].Phase)
}

func TestPruneJSONDryRunWritesPlanOnly(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore)
	h.scan(grepableBefore)

	require.Equal(t, exitOK, h.run("prune", "--keep-last", "1", "--dry-run", "--json"))
	docs := decodePruneDocuments(t, h.stdout.Bytes())
	require.Len(t, docs, 1)
	assert.Equal(t, "plan", docs[0].Phase)
	assert.Len(t, h.snapshots(), 2)
}

func TestHistoryRunShowsDecisions(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore)
	h.scan(grepableAfter)
	require.Equal(t, exitOK, h.run("prune", "--keep-last", "1"))

	db, err := storage.Open(h.histDB)
	require.NoError(t, err)
	runs, err := storage.NewHistoryStorage(db).RecentPrunes(1)
	require.NoError(t, db.Close())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.Equal(t, exitOK, h.run("history", "--run", runs[0].RunID), h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, runs[0].RunID)
	assert.Contains(t, out, "keep-last")
	assert.Contains(t, out, "expired")
	assert.Contains(t, out, "(deleted)")

	assert.Equal(t, exitNotFound, h.run("history", "--run", "no-such-run"))
}

func TestDoctorExitCodes(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, 1, h.run("doctor"))
	assert.Contains(t, h.stdout.String(), "no snapshots found")
	assert.Empty(t, h.stderr.String())

	h.scan(grepableBefore)
	assert.Equal(t, 0, h.run("doctor"))

	require.NoError(t, os.WriteFile(filepath.Join(h.dataDir, "2024-01-01T00-00-00.000000Z.json"), []byte("[]"), 0o644))
	assert.Equal(t, 2, h.run("doctor", "--json"))
	var res struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &res))
	assert.Equal(t, "fail", res.Status)
}

func TestListMarksCorrupt(t *testing.T) {
	h := newHarness(t)
	h.scan(grepableBefore)
	require.NoError(t, os.WriteFile(filepath.Join(h.dataDir, "2024-01-01T00-00-00.000000Z.json"), []byte("nope"), 0o644))

	require.Equal(t, exitOK, h.run("list", "--long"))
	assert.Contains(t, h.stdout.String(), "corrupt")

	require.Equal(t, exitOK, h.run("list", "--short"))
	assert.Len(t, bytes.Split(bytes.TrimSpace(h.stdout.Bytes()), []byte("\n")), 2)
}

func TestInvalidFlagIsUsageError(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitInvalidInput, h.run("list", "--bogus"))
	assert.Contains(t, h.stderr.String(), "Hint:")
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, exitOK, h.run("version"))
	assert.Contains(t, h.stdout.String(), version)
}
