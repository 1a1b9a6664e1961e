// Package report renders diff results, snapshot listings and prune plans
// for the console, as JSON and as markdown.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/user/attackdiff/internal/diff"
	"github.com/user/attackdiff/internal/model"
)

// DiffContext names the two sides of a comparison.
type DiffContext struct {
	From        string
	To          string
	GeneratedAt time.Time
}

type diffDocument struct {
	NewAssets     model.Assets  `json:"new_assets"`
	MissingAssets model.Assets  `json:"missing_assets"`
	ChangedAssets []diff.Change `json:"changed_assets"`
}

// WriteDiffJSON writes res in the interchange format consumed by other
// tools: new and missing assets keyed by id, changed assets as a list.
func WriteDiffJSON(w io.Writer, res diff.Result) error {
	doc := diffDocument{
		NewAssets:     res.New,
		MissingAssets: res.Missing,
		ChangedAssets: res.Changed,
	}
	if doc.NewAssets == nil {
		doc.NewAssets = model.Assets{}
	}
	if doc.MissingAssets == nil {
		doc.MissingAssets = model.Assets{}
	}
	if doc.ChangedAssets == nil {
		doc.ChangedAssets = []diff.Change{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// FormatDiffConsole renders res for a terminal.
func FormatDiffConsole(res diff.Result, ctx DiffContext) string {
	var sb strings.Builder
	if ctx.From != "" || ctx.To != "" {
		sb.WriteString(TitleStyle.Render(fmt.Sprintf("%s → %s", labelOr(ctx.From, "(empty)"), labelOr(ctx.To, "(empty)"))))
		sb.WriteString("\n\n")
	}
	if res.Empty() {
		sb.WriteString("[=] No changes detected\n")
		return sb.String()
	}

	if len(res.New) > 0 {
		sb.WriteString(SectionTitleStyle.Render(fmt.Sprintf("[+] New assets (%d)", len(res.New))))
		sb.WriteString("\n")
		for _, id := range res.NewIDs() {
			writeAssetLines(&sb, AddedStyle.Render("+ "+id.String()), res.New[id])
		}
		sb.WriteString("\n")
	}

	if len(res.Missing) > 0 {
		sb.WriteString(SectionTitleStyle.Render(fmt.Sprintf("[-] Missing assets (%d)", len(res.Missing))))
		sb.WriteString("\n")
		for _, id := range res.MissingIDs() {
			writeAssetLines(&sb, RemovedStyle.Render("- "+id.String()), res.Missing[id])
		}
		sb.WriteString("\n")
	}

	if len(res.Changed) > 0 {
		sb.WriteString(SectionTitleStyle.Render(fmt.Sprintf("[!] Changed assets (%d)", len(res.Changed))))
		sb.WriteString("\n")
		for _, c := range res.Changed {
			sb.WriteString("  " + ChangedStyle.Render("~ "+c.Host) + "\n")
			if len(c.PortsAdded) > 0 {
				sb.WriteString("      " + AddedStyle.Render("+ ports: "+joinInts(c.PortsAdded)) + "\n")
			}
			if len(c.ServicesAdded) > 0 {
				sb.WriteString("      " + AddedStyle.Render("+ services: "+strings.Join(c.ServicesAdded, ", ")) + "\n")
			}
			if len(c.PortsRemoved) > 0 {
				sb.WriteString("      " + RemovedStyle.Render("- ports: "+joinInts(c.PortsRemoved)) + "\n")
			}
			if len(c.ServicesRemoved) > 0 {
				sb.WriteString("      " + RemovedStyle.Render("- services: "+strings.Join(c.ServicesRemoved, ", ")) + "\n")
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString(DimStyle.Render(fmt.Sprintf("%d new, %d missing, %d changed, %d unchanged",
		len(res.New), len(res.Missing), len(res.Changed), len(res.Unchanged))))
	sb.WriteString("\n")
	return sb.String()
}

func writeAssetLines(sb *strings.Builder, head string, a model.Asset) {
	sb.WriteString("  " + head + "\n")
	if a.IP != "" && a.IP != a.Host {
		sb.WriteString("      " + LabelStyle.Render("ip") + a.IP + "\n")
	}
	sb.WriteString("      " + LabelStyle.Render("ports") + orDash(joinInts(a.Ports)) + "\n")
	sb.WriteString("      " + LabelStyle.Render("services") + orDash(strings.Join(a.Services, ", ")) + "\n")
}

// FormatDiffMarkdown renders res as a markdown document with a mermaid
// overview of the affected hosts.
func FormatDiffMarkdown(res diff.Result, ctx DiffContext) string {
	var sb strings.Builder
	generated := ctx.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	sb.WriteString("# Attack Surface Diff\n\n")
	sb.WriteString(fmt.Sprintf("**From:** %s  \n", labelOr(ctx.From, "(empty)")))
	sb.WriteString(fmt.Sprintf("**To:** %s  \n", labelOr(ctx.To, "(empty)")))
	sb.WriteString(fmt.Sprintf("**Generated:** %s\n\n", model.FormatTime(generated)))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Category | Count |\n|---|---|\n")
	sb.WriteString(fmt.Sprintf("| New | %d |\n", len(res.New)))
	sb.WriteString(fmt.Sprintf("| Missing | %d |\n", len(res.Missing)))
	sb.WriteString(fmt.Sprintf("| Changed | %d |\n", len(res.Changed)))
	sb.WriteString(fmt.Sprintf("| Unchanged | %d |\n\n", len(res.Unchanged)))

	if res.Empty() {
		sb.WriteString("No changes detected.\n")
		return sb.String()
	}

	if len(res.New) > 0 {
		sb.WriteString("## New Assets\n\n")
		writeAssetTable(&sb, res.New, res.NewIDs())
	}
	if len(res.Missing) > 0 {
		sb.WriteString("## Missing Assets\n\n")
		writeAssetTable(&sb, res.Missing, res.MissingIDs())
	}
	if len(res.Changed) > 0 {
		sb.WriteString("## Changed Assets\n\n")
		sb.WriteString("| Host | Ports added | Ports removed | Services added | Services removed |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, c := range res.Changed {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				escapeCell(c.Host), orDash(joinInts(c.PortsAdded)), orDash(joinInts(c.PortsRemoved)),
				orDash(escapeCell(strings.Join(c.ServicesAdded, ", "))), orDash(escapeCell(strings.Join(c.ServicesRemoved, ", ")))))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Overview\n\n")
	sb.WriteString(GenerateDiffDiagram(res))
	return sb.String()
}

func writeAssetTable(sb *strings.Builder, assets model.Assets, ids []model.AssetID) {
	sb.WriteString("| Host | IP | Ports | Services | Sources |\n|---|---|---|---|---|\n")
	for _, id := range ids {
		a := assets[id]
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			escapeCell(a.Host), orDash(a.IP), orDash(joinInts(a.Ports)),
			orDash(escapeCell(strings.Join(a.Services, ", "))), orDash(escapeCell(strings.Join(a.Sources, ", ")))))
	}
	sb.WriteString("\n")
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func labelOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
