package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/user/attackdiff/internal/errors"
	"github.com/user/attackdiff/internal/model"
	"github.com/user/attackdiff/internal/scanner"
	"github.com/user/attackdiff/internal/snapshot"
	"github.com/user/attackdiff/internal/storage"
	"github.com/user/attackdiff/internal/util"
)

type scanOptions struct {
	scanner       string
	targets       []string
	tag           string
	nmapArgs      string
	subfinderArgs string
	httpx         bool
	httpxArgs     string
}

func newScanCmd(a *app) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [targets...]",
		Short: "Run a scan and store a snapshot",
		Long: `Run a scanner against the targets and store the result as a new snapshot.

Examples:
  attackdiff scan --scanner nmap --targets 10.0.0.1 10.0.0.2
  attackdiff scan --scanner subfinder --targets example.com --httpx --tag weekly
  attackdiff scan --scanner connect --targets 192.168.1.10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.targets = append(opts.targets, args...)
			return a.runScan(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scanner, "scanner", "",
		"Scanner to use ("+strings.Join(scanner.Names, ", ")+")")
	cmd.Flags().StringSliceVar(&opts.targets, "targets", nil,
		"Targets (IP, domain); repeat the flag, separate with commas or pass as arguments")
	cmd.Flags().StringVar(&opts.tag, "tag", "",
		"Optional tag for the scan (e.g. weekly, prod, baseline)")
	cmd.Flags().StringVar(&opts.nmapArgs, "nmap-args", "",
		"Extra arguments passed directly to nmap")
	cmd.Flags().StringVar(&opts.subfinderArgs, "subfinder-args", "",
		"Extra arguments passed directly to subfinder")
	cmd.Flags().BoolVar(&opts.httpx, "httpx", false,
		"Run httpx on discovered domains (subfinder only)")
	cmd.Flags().StringVar(&opts.httpxArgs, "httpx-args", "",
		"Extra arguments passed to httpx")
	_ = cmd.MarkFlagRequired("scanner")

	return cmd
}

func (a *app) runScan(cmd *cobra.Command, opts *scanOptions) error {
	settings := scanner.Settings{
		NmapArgs:           firstNonEmpty(opts.nmapArgs, a.cfg.NmapArgs),
		SubfinderArgs:      firstNonEmpty(opts.subfinderArgs, a.cfg.SubfinderArgs),
		HTTPXArgs:          firstNonEmpty(opts.httpxArgs, a.cfg.HTTPXArgs),
		ConnectPorts:       a.cfg.ConnectPorts,
		ConnectConcurrency: a.cfg.ConnectConcurrency,
		ConnectTimeout:     a.cfg.ConnectTimeout,
		Runner:             a.runner,
		Clock:              a.now,
	}
	sc, err := scanner.New(opts.scanner, settings)
	if err != nil {
		return err
	}
	if opts.httpx && sc.Name() != "subfinder" {
		return apperrors.New(apperrors.KindInvalidInput, "httpx_requires_subfinder", "--httpx can only be combined with --scanner subfinder")
	}

	util.Info("running %s against %d target(s)", sc.Name(), len(opts.targets))
	assets, err := sc.Scan(cmd.Context(), opts.targets)
	if err != nil {
		return err
	}
	scannerName := sc.Name()
	if opts.httpx {
		hx, err := settings.HTTPX()
		if err != nil {
			return err
		}
		util.Info("probing %d host(s) with httpx", len(assets))
		assets, err = hx.Enrich(cmd.Context(), assets)
		if err != nil {
			return err
		}
		scannerName += "+httpx"
	}

	store := a.store()
	assets = carryFirstSeen(store, assets)

	path, err := store.Save(assets, snapshot.SaveOptions{Tag: opts.tag, Scanner: scannerName})
	if err != nil {
		return err
	}
	a.printf("[+] Snapshot saved: %s (%d assets)\n", path, len(assets))

	meta, err := store.LoadMeta(path)
	if err != nil {
		util.Warn("re-read %s: %v", path, err)
		return nil
	}
	a.recordSnapshot(path, meta, assets)
	return nil
}

// carryFirstSeen keeps the first_seen of assets already present in the
// newest readable snapshot.
func carryFirstSeen(store *snapshot.Store, assets model.Assets) model.Assets {
	entries, err := store.Entries()
	if err != nil {
		util.Warn("cannot read previous snapshots: %v", err)
		return assets
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Corrupt() {
			continue
		}
		previous, err := store.LoadAssets(entries[i].Path)
		if err != nil {
			continue
		}
		out := make(model.Assets, len(assets))
		for id, asset := range assets {
			if prev, ok := previous[id]; ok {
				asset = asset.CarryFirstSeen(prev)
			}
			out[id] = asset
		}
		util.Debug("first_seen carried from %s", entries[i].Name)
		return out
	}
	return assets
}

func (a *app) recordSnapshot(path string, meta model.Meta, assets model.Assets) {
	hist, closeHistory := a.history()
	defer closeHistory()
	if hist == nil {
		return
	}
	digest, err := snapshot.Digest(assets)
	if err != nil {
		util.Warn("digest: %v", err)
	}
	rec := storage.SnapshotRecord{
		Path:       path,
		Name:       filepath.Base(path),
		Timestamp:  meta.Timestamp,
		Tag:        meta.Tag,
		Scanner:    meta.Scanner,
		AssetCount: len(assets),
		Digest:     digest,
	}
	if err := hist.RecordSnapshot(rec); err != nil {
		util.Warn("history: %v", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
