// Package tui provides an interactive snapshot browser.
package tui

import (
	"path/filepath"
	"sort"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/attackdiff/internal/diff"
	"github.com/user/attackdiff/internal/report"
	"github.com/user/attackdiff/internal/snapshot"
)

// App is the main TUI application.
type App struct {
	store *snapshot.Store
}

// NewApp creates a new TUI application over store.
func NewApp(store *snapshot.Store) *App {
	return &App{store: store}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(newModel(a.store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type viewMode int

const (
	viewBrowser viewMode = iota
	viewDiff
)

// model is the main bubbletea model.
type model struct {
	store   *snapshot.Store
	browser *Browser
	spinner spinner.Model
	mode    viewMode
	diff    string
	status  string
	loading bool
	ready   bool
	width   int
	height  int
	err     error
}

func newModel(store *snapshot.Store) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(report.Primary)

	return model{
		store:   store,
		spinner: s,
		loading: true,
	}
}

// Init initializes the model.
func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadEntries(m.store),
	)
}

// Update handles messages.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.browser != nil {
			m.browser.SetSize(msg.Width, msg.Height)
		}

	case entriesMsg:
		m.ready = true
		m.loading = false
		m.err = nil
		m.browser = NewBrowser(msg.entries, m.width, m.height)

	case diffMsg:
		m.loading = false
		m.mode = viewDiff
		m.diff = report.FormatDiffConsole(msg.result, msg.ctx)

	case errMsg:
		m.loading = false
		m.err = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.mode == viewDiff {
			m.mode = viewBrowser
			return m, nil
		}
		return m, tea.Quit
	case "r":
		m.loading = true
		m.mode = viewBrowser
		return m, loadEntries(m.store)
	}

	if m.mode != viewBrowser || m.browser == nil {
		return m, nil
	}

	switch msg.String() {
	case " ", "m":
		m.status = m.browser.ToggleMark()
		return m, nil
	case "enter", "d":
		older, newer, err := m.browser.Pair()
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.status = ""
		m.loading = true
		return m, loadDiff(m.store, older, newer)
	}

	var cmd tea.Cmd
	m.browser.table, cmd = m.browser.table.Update(msg)
	return m, cmd
}

// View renders the UI.
func (m model) View() string {
	if m.err != nil {
		return ErrorStyle.Render("Error: "+m.err.Error()) + "\n" + HelpStyle.Render("Press 'r' to retry • 'q' to quit")
	}

	if !m.ready || (m.loading && m.mode == viewBrowser && m.browser == nil) {
		return LoadingStyle.Render(m.spinner.View() + " Loading snapshots...")
	}

	if m.mode == viewDiff {
		return m.diff + "\n" + HelpStyle.Render("Press 'esc' to go back • 'q' to quit")
	}

	view := m.browser.View()
	if m.loading {
		view += "\n" + m.spinner.View() + " Computing diff..."
	}
	if m.status != "" {
		view += "\n" + StatusStyle.Render(m.status)
	}
	return view
}

// Messages
type entriesMsg struct {
	entries []snapshot.Entry
}

type diffMsg struct {
	result diff.Result
	ctx    report.DiffContext
}

type errMsg struct {
	err error
}

func loadEntries(store *snapshot.Store) tea.Cmd {
	return func() tea.Msg {
		entries, err := store.Entries()
		if err != nil {
			return errMsg{err}
		}
		return entriesMsg{entries: entries}
	}
}

func loadDiff(store *snapshot.Store, older, newer string) tea.Cmd {
	return func() tea.Msg {
		oldAssets, err := store.LoadAssets(older)
		if err != nil {
			return errMsg{err}
		}
		newAssets, err := store.LoadAssets(newer)
		if err != nil {
			return errMsg{err}
		}
		return diffMsg{
			result: diff.Compute(oldAssets, newAssets),
			ctx:    report.DiffContext{From: filepath.Base(older), To: filepath.Base(newer)},
		}
	}
}

// orderPair returns two snapshot paths oldest first.
func orderPair(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}
