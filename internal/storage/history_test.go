package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) *HistoryStorage {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "attackdiff.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	h := NewHistoryStorage(db)
	h.now = func() time.Time { return t0 }
	return h
}

func TestOpenIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attackdiff.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestRecordSnapshotUpserts(t *testing.T) {
	h := openTemp(t)

	rec := SnapshotRecord{Path: "data/scans/a.json", Name: "a.json", Timestamp: t0, Tag: "baseline", Scanner: "nmap", AssetCount: 3, Digest: "abc"}
	require.NoError(t, h.RecordSnapshot(rec))
	rec.AssetCount = 4
	require.NoError(t, h.RecordSnapshot(rec))
	require.NoError(t, h.RecordSnapshot(SnapshotRecord{Path: "data/scans/b.json", Name: "b.json", Timestamp: t0.Add(time.Hour)}))

	rows, err := h.RecentSnapshots(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b.json", rows[0].Name)
	assert.Empty(t, rows[0].Tag)
	assert.Equal(t, "baseline", rows[1].Tag)
	assert.Equal(t, 4, rows[1].AssetCount)
	assert.True(t, t0.Equal(rows[1].Timestamp))
	assert.True(t, t0.Equal(rows[1].RecordedAt))
	assert.Nil(t, rows[1].DeletedAt)

	rows, err = h.RecentSnapshots(1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRecordPrune(t *testing.T) {
	h := openTemp(t)
	require.NoError(t, h.RecordSnapshot(SnapshotRecord{Path: "old.json", Name: "old.json", Timestamp: t0.Add(-48 * time.Hour)}))
	require.NoError(t, h.RecordSnapshot(SnapshotRecord{Path: "new.json", Name: "new.json", Timestamp: t0}))

	keepLast := 1
	runID, err := h.RecordPrune(PruneRun{Mode: "global", KeepLast: &keepLast}, []PruneDecision{
		{Path: "old.json", Action: "delete", Reason: "expired", Deleted: true},
		{Path: "new.json", Action: "keep", Reason: "keep-last"},
	})
	require.NoError(t, err)
	assert.Len(t, runID, 36)

	runs, err := h.RecentPrunes(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, 1, runs[0].Kept)
	assert.Equal(t, 1, runs[0].Deleted)
	require.NotNil(t, runs[0].KeepLast)
	assert.Equal(t, 1, *runs[0].KeepLast)
	assert.Nil(t, runs[0].KeepDays)
	assert.False(t, runs[0].DryRun)

	decisions, err := h.Decisions(runID)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "expired", decisions[0].Reason)

	snaps, err := h.RecentSnapshots(0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Nil(t, snaps[0].DeletedAt)
	require.NotNil(t, snaps[1].DeletedAt)
	assert.True(t, t0.Equal(*snaps[1].DeletedAt))
}

func TestRecordPruneDryRun(t *testing.T) {
	h := openTemp(t)
	keepDays := 7
	_, err := h.RecordPrune(PruneRun{Mode: "tag", TagFilter: "nightly", KeepDays: &keepDays, DryRun: true},
		[]PruneDecision{{Path: "x.json", Action: "delete", Reason: "expired"}})
	require.NoError(t, err)

	runs, err := h.RecentPrunes(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].DryRun)
	assert.Equal(t, "nightly", runs[0].TagFilter)
	assert.Equal(t, 0, runs[0].Deleted)
}
