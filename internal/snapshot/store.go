// Package snapshot persists attack surface captures as timestamped JSON
// documents and applies retention policies to them.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/user/attackdiff/internal/errors"
	"github.com/user/attackdiff/internal/fsx"
	"github.com/user/attackdiff/internal/model"
)

// DefaultDir is the store directory used when none is configured.
const DefaultDir = "data/scans"

const lockName = ".attackdiff.lock"

// Store is a directory of snapshot documents.
type Store struct {
	dir string
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp new snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a store rooted at dir. The directory is created on first save.
func New(dir string, opts ...Option) *Store {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// SaveOptions carries the metadata recorded with a snapshot.
type SaveOptions struct {
	Tag     string
	Scanner string
}

// Save writes assets as a new snapshot and returns its path. An existing
// snapshot is never overwritten: a colliding capture time is advanced by one
// microsecond until the name is free.
func (s *Store) Save(assets model.Assets, opts SaveOptions) (string, error) {
	if assets == nil {
		assets = model.Assets{}
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", apperrors.Wrap(fmt.Errorf("create store dir: %w", err), apperrors.KindIOFailure, "store_dir_failed", "check permissions on the data directory")
	}
	lock, err := s.lock()
	if err != nil {
		return "", err
	}
	defer lock.Release()

	ts := model.Timestamp(s.now())
	path := filepath.Join(s.dir, FileName(ts))
	for {
		_, statErr := os.Stat(path)
		if errors.Is(statErr, os.ErrNotExist) {
			break
		}
		if statErr != nil {
			return "", apperrors.Wrap(fmt.Errorf("stat %s: %w", path, statErr), apperrors.KindIOFailure, "snapshot_write_failed", "")
		}
		ts = ts.Add(time.Microsecond)
		path = filepath.Join(s.dir, FileName(ts))
	}

	doc := model.Document{
		Meta: model.Meta{
			Timestamp: ts,
			Tag:       strings.TrimSpace(opts.Tag),
			Scanner:   strings.TrimSpace(opts.Scanner),
		},
		Assets: assets,
	}
	if err := doc.Validate(); err != nil {
		return "", apperrors.Wrap(err, apperrors.KindInvalidInput, "snapshot_invalid", "")
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", apperrors.Wrap(fmt.Errorf("encode snapshot: %w", err), apperrors.KindInvalidInput, "snapshot_invalid", "")
	}
	data = append(data, '\n')
	if err := fsx.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", apperrors.Wrap(err, apperrors.KindIOFailure, "snapshot_write_failed", "check free space and permissions on the data directory")
	}
	return path, nil
}

// List returns the paths of all snapshot files, oldest first. A missing
// store directory yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(fmt.Errorf("read store dir: %w", err), apperrors.KindIOFailure, "store_read_failed", "")
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isSnapshotFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Entry is one enumerated snapshot. Err is set when the file could not be
// parsed; Meta and AssetCount are then zero.
type Entry struct {
	Path       string
	Name       string
	Meta       model.Meta
	AssetCount int
	Err        error
}

// Corrupt reports whether the entry failed to load.
func (e Entry) Corrupt() bool {
	return e.Err != nil
}

// CreatedAt is the capture time of the entry, falling back to the time
// encoded in its file name when the document is unreadable.
func (e Entry) CreatedAt() time.Time {
	if !e.Corrupt() {
		return e.Meta.Timestamp
	}
	ts, _ := TimeFromFileName(e.Name)
	return ts
}

// Entries loads the metadata of every snapshot, oldest first. Unreadable
// files are returned with Err set instead of aborting the enumeration.
func (s *Store) Entries() ([]Entry, error) {
	paths, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(paths))
	for _, path := range paths {
		entry := Entry{Path: path, Name: filepath.Base(path)}
		doc, err := s.Load(path)
		if err != nil {
			entry.Err = err
		} else {
			entry.Meta = doc.Meta
			entry.AssetCount = len(doc.Assets)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Resolve maps a user supplied reference to a snapshot path. The value may
// be a path or a bare file name inside the store.
func (s *Store) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperrors.New(apperrors.KindInvalidInput, "snapshot_ref_empty", "snapshot reference must not be empty")
	}
	candidates := []string{ref}
	if filepath.Base(ref) == ref {
		candidates = append(candidates, filepath.Join(s.dir, ref))
		if !strings.HasSuffix(ref, fileExt) {
			candidates = append(candidates, filepath.Join(s.dir, ref+fileExt))
		}
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", apperrors.Wrap(fmt.Errorf("snapshot %q not found", ref), apperrors.KindNotFound, "snapshot_not_found", "run `attackdiff list` to see available snapshots")
}

// Load reads and validates one snapshot document.
func (s *Store) Load(path string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return model.Document{}, apperrors.Wrap(fmt.Errorf("snapshot %s not found", path), apperrors.KindNotFound, "snapshot_not_found", "")
	}
	if err != nil {
		return model.Document{}, apperrors.Wrap(fmt.Errorf("read %s: %w", path, err), apperrors.KindIOFailure, "snapshot_read_failed", "")
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return model.Document{}, apperrors.Wrap(fmt.Errorf("snapshot %s: %w", filepath.Base(path), err), apperrors.KindCorrupt, "snapshot_corrupt", "inspect the file or remove it with `attackdiff prune`")
	}
	return doc, nil
}

func decodeDocument(data []byte) (model.Document, error) {
	if !json.Valid(data) {
		return model.Document{}, errors.New("malformed json")
	}
	if err := validateDocument(data); err != nil {
		return model.Document{}, err
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.Document{}, err
	}
	if doc.Assets == nil {
		doc.Assets = model.Assets{}
	}
	doc.Assets.DefaultSeen(doc.Meta.Timestamp)
	if err := doc.Validate(); err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

// LoadAssets returns only the asset map of a snapshot.
func (s *Store) LoadAssets(path string) (model.Assets, error) {
	doc, err := s.Load(path)
	if err != nil {
		return nil, err
	}
	return doc.Assets, nil
}

// LoadMeta returns only the metadata of a snapshot.
func (s *Store) LoadMeta(path string) (model.Meta, error) {
	doc, err := s.Load(path)
	if err != nil {
		return model.Meta{}, err
	}
	return doc.Meta, nil
}

// FindByTag returns the newest readable snapshot carrying tag.
func (s *Store) FindByTag(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", apperrors.New(apperrors.KindInvalidInput, "tag_empty", "tag must not be empty")
	}
	entries, err := s.Entries()
	if err != nil {
		return "", err
	}
	var best *Entry
	for i := range entries {
		e := &entries[i]
		if e.Corrupt() || e.Meta.Tag != tag {
			continue
		}
		if best == nil || !e.Meta.Timestamp.Before(best.Meta.Timestamp) {
			best = e
		}
	}
	if best == nil {
		return "", apperrors.Wrap(fmt.Errorf("no snapshot tagged %q", tag), apperrors.KindNotFound, "tag_not_found", "run `attackdiff list --tag "+tag+"`")
	}
	return best.Path, nil
}

// Latest returns the newest snapshot path.
func (s *Store) Latest() (string, error) {
	paths, err := s.List()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", apperrors.New(apperrors.KindNotFound, "store_empty", "no snapshots found; run `attackdiff scan` first")
	}
	return paths[len(paths)-1], nil
}

// LastTwo loads the two newest snapshots, older first.
func (s *Store) LastTwo() (older, newer model.Assets, err error) {
	paths, err := s.List()
	if err != nil {
		return nil, nil, err
	}
	if len(paths) < 2 {
		return nil, nil, apperrors.Wrap(
			fmt.Errorf("need at least two snapshots, found %d", len(paths)),
			apperrors.KindInsufficientData, "not_enough_snapshots", "run `attackdiff scan` again to capture a second snapshot")
	}
	older, err = s.LoadAssets(paths[len(paths)-2])
	if err != nil {
		return nil, nil, err
	}
	newer, err = s.LoadAssets(paths[len(paths)-1])
	if err != nil {
		return nil, nil, err
	}
	return older, newer, nil
}

func (s *Store) lock() (*fsx.Lock, error) {
	lock, err := fsx.AcquireLock(filepath.Join(s.dir, lockName))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindIOFailure, "store_lock_failed", "another attackdiff process may be writing to the store")
	}
	return lock, nil
}
