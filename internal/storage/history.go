package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/user/attackdiff/internal/model"
)

// SnapshotRecord is the catalog row for one saved snapshot.
type SnapshotRecord struct {
	Path       string
	Name       string
	Timestamp  time.Time
	Tag        string
	Scanner    string
	AssetCount int
	Digest     string
	RecordedAt time.Time
	DeletedAt  *time.Time
}

// PruneRun is the catalog row for one prune invocation.
type PruneRun struct {
	RunID     string
	Mode      string
	TagFilter string
	KeepLast  *int
	KeepDays  *int
	DryRun    bool
	StartedAt time.Time
	Kept      int
	Deleted   int
}

// PruneDecision is one decision recorded for a prune run.
type PruneDecision struct {
	Path    string
	Action  string
	Reason  string
	Deleted bool
	Error   string
}

// HistoryStorage handles snapshot and prune history persistence.
type HistoryStorage struct {
	db  *DB
	now func() time.Time
}

// NewHistoryStorage creates a new history storage handler.
func NewHistoryStorage(db *DB) *HistoryStorage {
	return &HistoryStorage{db: db, now: time.Now}
}

// RecordSnapshot stores or refreshes the catalog row of a snapshot.
func (h *HistoryStorage) RecordSnapshot(rec SnapshotRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = h.now()
	}
	query := `INSERT INTO snapshots (path, name, timestamp, tag, scanner, asset_count, digest, recorded_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(path) DO UPDATE SET
			  name = excluded.name,
			  timestamp = excluded.timestamp,
			  tag = excluded.tag,
			  scanner = excluded.scanner,
			  asset_count = excluded.asset_count,
			  digest = excluded.digest,
			  recorded_at = excluded.recorded_at,
			  deleted_at = NULL`

	return h.db.WithLock(func() error {
		_, err := h.db.Exec(query,
			rec.Path, rec.Name, model.FormatTime(rec.Timestamp), nullString(rec.Tag), nullString(rec.Scanner),
			rec.AssetCount, nullString(rec.Digest), model.FormatTime(rec.RecordedAt))
		if err != nil {
			return fmt.Errorf("failed to record snapshot: %w", err)
		}
		return nil
	})
}

// RecordPrune stores a prune run with its decisions and marks the deleted
// snapshots in the catalog. The generated run id is returned.
func (h *HistoryStorage) RecordPrune(run PruneRun, decisions []PruneDecision) (string, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = h.now()
	}
	err := h.db.WithLock(func() error {
		tx, err := h.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.Exec(`INSERT INTO prune_runs (run_id, mode, tag_filter, keep_last, keep_days, dry_run, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Mode, nullString(run.TagFilter), nullInt(run.KeepLast), nullInt(run.KeepDays),
			run.DryRun, model.FormatTime(run.StartedAt))
		if err != nil {
			return fmt.Errorf("failed to insert prune run: %w", err)
		}

		stmt, err := tx.Prepare(`INSERT INTO prune_decisions (run_id, path, action, reason, deleted, error)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare decision insert: %w", err)
		}
		defer stmt.Close()

		deletedAt := model.FormatTime(run.StartedAt)
		for _, d := range decisions {
			if _, err := stmt.Exec(run.RunID, d.Path, d.Action, d.Reason, d.Deleted, nullString(d.Error)); err != nil {
				return fmt.Errorf("failed to insert decision: %w", err)
			}
			if d.Deleted {
				if _, err := tx.Exec(`UPDATE snapshots SET deleted_at = ? WHERE path = ?`, deletedAt, d.Path); err != nil {
					return fmt.Errorf("failed to mark snapshot deleted: %w", err)
				}
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return run.RunID, nil
}

// RecentSnapshots returns up to limit catalog rows, newest first.
func (h *HistoryStorage) RecentSnapshots(limit int) ([]SnapshotRecord, error) {
	query := `SELECT path, name, timestamp, tag, scanner, asset_count, digest, recorded_at, deleted_at
			  FROM snapshots ORDER BY timestamp DESC, id DESC LIMIT ?`

	var out []SnapshotRecord
	err := h.db.WithRLock(func() error {
		rows, err := h.db.Query(query, normalizeLimit(limit))
		if err != nil {
			return fmt.Errorf("failed to query snapshots: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				rec                         SnapshotRecord
				ts, recordedAt              string
				tag, scanner, digest, delAt sql.NullString
			)
			if err := rows.Scan(&rec.Path, &rec.Name, &ts, &tag, &scanner, &rec.AssetCount, &digest, &recordedAt, &delAt); err != nil {
				return fmt.Errorf("failed to scan snapshot row: %w", err)
			}
			rec.Timestamp, _ = model.ParseTime(ts)
			rec.RecordedAt, _ = model.ParseTime(recordedAt)
			rec.Tag, rec.Scanner, rec.Digest = tag.String, scanner.String, digest.String
			if delAt.Valid {
				if t, err := model.ParseTime(delAt.String); err == nil {
					rec.DeletedAt = &t
				}
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// RecentPrunes returns up to limit prune runs, newest first, with their
// kept and deleted counts.
func (h *HistoryStorage) RecentPrunes(limit int) ([]PruneRun, error) {
	query := `SELECT r.run_id, r.mode, r.tag_filter, r.keep_last, r.keep_days, r.dry_run, r.started_at,
			  COALESCE(SUM(CASE WHEN d.action = 'keep' THEN 1 ELSE 0 END), 0),
			  COALESCE(SUM(CASE WHEN d.deleted = 1 THEN 1 ELSE 0 END), 0)
			  FROM prune_runs r LEFT JOIN prune_decisions d ON d.run_id = r.run_id
			  GROUP BY r.id ORDER BY r.started_at DESC, r.id DESC LIMIT ?`

	var out []PruneRun
	err := h.db.WithRLock(func() error {
		rows, err := h.db.Query(query, normalizeLimit(limit))
		if err != nil {
			return fmt.Errorf("failed to query prune runs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				run                PruneRun
				tagFilter          sql.NullString
				keepLast, keepDays sql.NullInt64
				startedAt          string
			)
			if err := rows.Scan(&run.RunID, &run.Mode, &tagFilter, &keepLast, &keepDays, &run.DryRun, &startedAt, &run.Kept, &run.Deleted); err != nil {
				return fmt.Errorf("failed to scan prune row: %w", err)
			}
			run.TagFilter = tagFilter.String
			run.KeepLast = intFromNull(keepLast)
			run.KeepDays = intFromNull(keepDays)
			run.StartedAt, _ = model.ParseTime(startedAt)
			out = append(out, run)
		}
		return rows.Err()
	})
	return out, err
}

// Decisions returns the recorded decisions of one prune run.
func (h *HistoryStorage) Decisions(runID string) ([]PruneDecision, error) {
	var out []PruneDecision
	err := h.db.WithRLock(func() error {
		rows, err := h.db.Query(`SELECT path, action, reason, deleted, error FROM prune_decisions WHERE run_id = ? ORDER BY id`, runID)
		if err != nil {
			return fmt.Errorf("failed to query decisions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				d            PruneDecision
				reason, dErr sql.NullString
			)
			if err := rows.Scan(&d.Path, &d.Action, &reason, &d.Deleted, &dErr); err != nil {
				return fmt.Errorf("failed to scan decision row: %w", err)
			}
			d.Reason, d.Error = reason.String, dErr.String
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
