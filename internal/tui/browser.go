package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"

	"github.com/user/attackdiff/internal/snapshot"
)

// Browser is the snapshot table view.
type Browser struct {
	entries []entryRow
	table   table.Model
	marked  map[int]bool
	width   int
	height  int
}

type entryRow struct {
	path    string
	name    string
	tag     string
	scanner string
	assets  string
	corrupt bool
}

// NewBrowser creates the table view over entries, newest last.
func NewBrowser(entries []snapshot.Entry, width, height int) *Browser {
	b := &Browser{marked: map[int]bool{}, width: width, height: height}
	for _, e := range entries {
		row := entryRow{path: e.Path, name: e.Name, tag: "-", scanner: "-"}
		switch {
		case e.Corrupt():
			row.corrupt = true
			row.assets = "corrupt"
		default:
			if e.Meta.Tag != "" {
				row.tag = e.Meta.Tag
			}
			if e.Meta.Scanner != "" {
				row.scanner = e.Meta.Scanner
			}
			row.assets = fmt.Sprintf("%d", e.AssetCount)
		}
		b.entries = append(b.entries, row)
	}

	columns := []table.Column{
		{Title: " ", Width: 2},
		{Title: "Snapshot", Width: 32},
		{Title: "Tag", Width: 16},
		{Title: "Scanner", Width: 10},
		{Title: "Assets", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(b.rows()),
		table.WithFocused(true),
		table.WithHeight(b.tableHeight()),
	)
	styles := table.DefaultStyles()
	styles.Header = TableHeaderStyle
	styles.Selected = TableSelectedStyle
	t.SetStyles(styles)
	if len(b.entries) > 0 {
		t.SetCursor(len(b.entries) - 1)
	}
	b.table = t
	return b
}

func (b *Browser) rows() []table.Row {
	rows := make([]table.Row, 0, len(b.entries))
	for i, e := range b.entries {
		mark := ""
		if b.marked[i] {
			mark = "●"
		}
		rows = append(rows, table.Row{mark, e.name, e.tag, e.scanner, e.assets})
	}
	return rows
}

func (b *Browser) tableHeight() int {
	h := b.height - 8
	if h < 5 {
		h = 5
	}
	return h
}

// SetSize updates the browser size.
func (b *Browser) SetSize(width, height int) {
	b.width = width
	b.height = height
	b.table.SetHeight(b.tableHeight())
}

// ToggleMark marks or unmarks the selected snapshot. At most two snapshots
// can be marked; the returned text describes the outcome.
func (b *Browser) ToggleMark() string {
	i := b.table.Cursor()
	if i < 0 || i >= len(b.entries) {
		return ""
	}
	if b.marked[i] {
		delete(b.marked, i)
	} else {
		if b.entries[i].corrupt {
			return b.entries[i].name + " is unreadable"
		}
		if len(b.marked) >= 2 {
			return "two snapshots already marked; unmark one first"
		}
		b.marked[i] = true
	}
	b.table.SetRows(b.rows())
	return fmt.Sprintf("%d of 2 marked", len(b.marked))
}

// Pair returns the two snapshots to compare, oldest first: the two marked
// ones, or the selected snapshot and the readable one before it.
func (b *Browser) Pair() (string, string, error) {
	if len(b.marked) == 2 {
		var paths []string
		for i := range b.marked {
			paths = append(paths, b.entries[i].path)
		}
		older, newer := orderPair(paths[0], paths[1])
		return older, newer, nil
	}
	i := b.table.Cursor()
	if i < 0 || i >= len(b.entries) || b.entries[i].corrupt {
		return "", "", errors.New("select a readable snapshot")
	}
	for j := i - 1; j >= 0; j-- {
		if !b.entries[j].corrupt {
			return b.entries[j].path, b.entries[i].path, nil
		}
	}
	return "", "", errors.New("no earlier snapshot to compare with")
}

// View renders the browser.
func (b *Browser) View() string {
	var sb strings.Builder

	header := HeaderStyle.Width(max(b.width, 40)).Render("attackdiff snapshots")
	sb.WriteString(header)
	sb.WriteString("\n\n")

	if len(b.entries) == 0 {
		sb.WriteString(DimStyle.Render("No snapshots found. Run `attackdiff scan` first."))
		sb.WriteString("\n")
	} else {
		sb.WriteString(SectionStyle.Render(b.table.View()))
		sb.WriteString("\n")
	}

	help := HelpStyle.Render("↑/↓ move • space mark • enter diff • 'r' refresh • 'q' quit")
	sb.WriteString(help)

	return sb.String()
}
