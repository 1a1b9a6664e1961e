package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/user/attackdiff/internal/model"
	"github.com/user/attackdiff/internal/snapshot"
	"github.com/user/attackdiff/internal/storage"
)

// ListOptions controls FormatSnapshotList.
type ListOptions struct {
	// Short prints only file names.
	Short bool
	// Long adds the scanner and surface digest columns.
	Long bool
	// Digests maps snapshot paths to their surface digest for Long output.
	Digests map[string]string
}

// FormatSnapshotList renders store entries oldest first. Unreadable files
// are listed and marked instead of being dropped.
func FormatSnapshotList(entries []snapshot.Entry, opts ListOptions) string {
	if len(entries) == 0 {
		return "No snapshots found.\n"
	}
	var sb strings.Builder
	for _, e := range entries {
		if opts.Short {
			sb.WriteString(e.Name + "\n")
			continue
		}
		if e.Corrupt() {
			sb.WriteString(fmt.Sprintf("%-34s %s\n", e.Name, ErrorStyle.Render("corrupt: "+e.Err.Error())))
			continue
		}
		tag := e.Meta.Tag
		if tag == "" {
			tag = "-"
		}
		line := fmt.Sprintf("%-34s %-16s %6d assets", e.Name, tag, e.AssetCount)
		if opts.Long {
			scanner := e.Meta.Scanner
			if scanner == "" {
				scanner = "-"
			}
			digest := opts.Digests[e.Path]
			if len(digest) > 12 {
				digest = digest[:12]
			}
			line += fmt.Sprintf("  %-10s %s", scanner, orDash(digest))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// FormatPlan renders retention decisions, oldest snapshot first.
func FormatPlan(plan snapshot.Plan) string {
	var sb strings.Builder
	title := "Prune plan"
	if plan.Policy.DryRun {
		title += " (dry run)"
	}
	sb.WriteString(TitleStyle.Render(title) + "\n")
	sb.WriteString(DimStyle.Render(describePolicy(plan.Policy)) + "\n\n")

	if len(plan.Decisions) == 0 {
		sb.WriteString("No snapshots matched.\n")
	}
	for _, d := range plan.Decisions {
		marker := AddedStyle.Render("keep  ")
		if d.Action == snapshot.ActionDelete {
			marker = RemovedStyle.Render("delete")
		}
		line := fmt.Sprintf("%s %-34s %s", marker, d.Name, d.Reason)
		switch {
		case d.Error != "":
			line += " " + ErrorStyle.Render("failed: "+d.Error)
		case d.Deleted:
			line += " " + DimStyle.Render("(deleted)")
		}
		sb.WriteString(line + "\n")
	}
	for _, e := range plan.Skipped {
		sb.WriteString(fmt.Sprintf("%s %-34s %s\n", ChangedStyle.Render("skip  "), e.Name, "unreadable"))
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%d kept, %d to delete", len(plan.Kept()), len(plan.Deletions())))
	if len(plan.Skipped) > 0 {
		sb.WriteString(fmt.Sprintf(", %d skipped", len(plan.Skipped)))
	}
	sb.WriteString("\n")
	return sb.String()
}

func describePolicy(p snapshot.Policy) string {
	var parts []string
	if p.Scoped() {
		parts = append(parts, "tag="+p.Tag)
	} else {
		parts = append(parts, "all untagged snapshots")
	}
	if p.KeepLast != nil {
		parts = append(parts, fmt.Sprintf("keep-last=%d", *p.KeepLast))
	}
	if p.KeepDays != nil {
		parts = append(parts, fmt.Sprintf("keep-days=%d", *p.KeepDays))
	}
	return strings.Join(parts, ", ")
}

// Phases of a prune reported as JSON.
const (
	PhasePlan   = "plan"
	PhaseResult = "result"
)

type planDocument struct {
	Phase     string              `json:"phase"`
	DryRun    bool                `json:"dry_run"`
	Tag       *string             `json:"tag"`
	KeepLast  *int                `json:"keep_last"`
	KeepDays  *int                `json:"keep_days"`
	Decisions []snapshot.Decision `json:"decisions"`
	Skipped   []string            `json:"skipped"`
}

// WritePlanJSON writes plan, before anything is deleted, as a JSON document
// with phase "plan".
func WritePlanJSON(w io.Writer, plan snapshot.Plan) error {
	return writePlanDocument(w, plan, PhasePlan)
}

// WriteResultJSON writes an applied plan as a JSON document with phase
// "result". Its decisions carry the deleted flags and per-file errors.
func WriteResultJSON(w io.Writer, plan snapshot.Plan) error {
	return writePlanDocument(w, plan, PhaseResult)
}

func writePlanDocument(w io.Writer, plan snapshot.Plan, phase string) error {
	doc := planDocument{
		Phase:     phase,
		DryRun:    plan.Policy.DryRun,
		KeepLast:  plan.Policy.KeepLast,
		KeepDays:  plan.Policy.KeepDays,
		Decisions: plan.Decisions,
		Skipped:   make([]string, 0, len(plan.Skipped)),
	}
	if plan.Policy.Scoped() {
		tag := plan.Policy.Tag
		doc.Tag = &tag
	}
	if doc.Decisions == nil {
		doc.Decisions = []snapshot.Decision{}
	}
	for _, e := range plan.Skipped {
		doc.Skipped = append(doc.Skipped, e.Path)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// FormatHistory renders catalog rows for the history command.
func FormatHistory(snaps []storage.SnapshotRecord, runs []storage.PruneRun) string {
	var sb strings.Builder
	sb.WriteString(SectionTitleStyle.Render("Snapshots") + "\n")
	if len(snaps) == 0 {
		sb.WriteString(DimStyle.Render("  none recorded") + "\n")
	}
	for _, s := range snaps {
		status := ""
		if s.DeletedAt != nil {
			status = RemovedStyle.Render(" deleted " + model.FormatTime(*s.DeletedAt))
		}
		sb.WriteString(fmt.Sprintf("  %-34s %-16s %-10s %5d assets%s\n",
			s.Name, orDash(s.Tag), orDash(s.Scanner), s.AssetCount, status))
	}

	sb.WriteString("\n" + SectionTitleStyle.Render("Prune runs") + "\n")
	if len(runs) == 0 {
		sb.WriteString(DimStyle.Render("  none recorded") + "\n")
	}
	for _, r := range runs {
		mode := r.Mode
		if r.TagFilter != "" {
			mode += " tag=" + r.TagFilter
		}
		dry := ""
		if r.DryRun {
			dry = " (dry run)"
		}
		sb.WriteString(fmt.Sprintf("  %s  %-20s kept %d, deleted %d%s  %s\n",
			model.FormatTime(r.StartedAt), mode, r.Kept, r.Deleted, dry, DimStyle.Render(r.RunID)))
	}
	return sb.String()
}

// FormatDecisions renders the recorded decisions of one prune run.
func FormatDecisions(runID string, decisions []storage.PruneDecision) string {
	var sb strings.Builder
	sb.WriteString(SectionTitleStyle.Render("Prune run "+runID) + "\n")
	for _, d := range decisions {
		marker := AddedStyle.Render("keep  ")
		if d.Action == string(snapshot.ActionDelete) {
			marker = RemovedStyle.Render("delete")
		}
		line := fmt.Sprintf("  %s %-50s %s", marker, d.Path, d.Reason)
		switch {
		case d.Error != "":
			line += " " + ErrorStyle.Render("failed: "+d.Error)
		case d.Deleted:
			line += " " + DimStyle.Render("(deleted)")
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}
