// Package tui shows a live analysis in the terminal with bubbletea.
package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/fitcheck/internal/analysis"
	"github.com/Veraticus/fitcheck/internal/model"
	"github.com/Veraticus/fitcheck/internal/tui/themes"
)

// Analyzer is the workflow surface the view reads from.
type Analyzer interface {
	Snapshot() analysis.Session
}

// Model holds the analysis view state.
type Model struct {
	analyzer Analyzer
	updates  <-chan analysis.Session
	err      error
	theme    themes.Theme
	keymap   KeyMap
	help     help.Model
	spinner  spinner.Model
	session  analysis.Session
	width    int
	started  bool
	quitting bool
	// skipped is set when the user stops waiting for enrichment.
	skipped bool
}

func newModel(analyzer Analyzer, updates <-chan analysis.Session, theme themes.Theme) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = theme.Spinner

	return Model{
		analyzer: analyzer,
		updates:  updates,
		theme:    theme,
		keymap:   DefaultKeyMap(),
		help:     help.New(),
		spinner:  s,
		width:    80,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Skip):
			if m.started && m.err == nil {
				m.skipped = true
				return m, tea.Quit
			}
		}
		return m, nil

	case sessionMsg:
		if !m.started || msg.session.ID == m.session.ID {
			m.session = msg.session
		}
		if m.done() {
			return m, tea.Quit
		}
		return m, m.waitForUpdate()

	case updatesClosedMsg:
		return m, nil

	case startDoneMsg:
		m.started = true
		m.err = msg.err
		m.session = msg.session
		if latest := m.analyzer.Snapshot(); latest.ID == msg.session.ID {
			m.session = latest
		}
		if m.done() {
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		// Updates can be dropped by a lagging subscriber; the tick re-reads state.
		if m.started && m.err == nil {
			if latest := m.analyzer.Snapshot(); latest.ID == m.session.ID {
				m.session = latest
			}
			if m.done() {
				return m, tea.Quit
			}
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// done reports whether nothing more will change on screen.
func (m Model) done() bool {
	if !m.started {
		return false
	}
	if m.err != nil {
		return true
	}
	return m.session.Enrichment != model.StageSearchingImages
}

// Session returns the last session the view saw.
func (m Model) Session() analysis.Session {
	return m.session
}

// Err returns the error Start failed with, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) waitForUpdate() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	updates := m.updates
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return sessionMsg{session: s}
	}
}
