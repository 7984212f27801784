package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/model"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	sections := []string{m.theme.Title.Render("fitcheck")}

	switch {
	case m.err != nil:
		sections = append(sections, m.renderError())
	case !m.started:
		sections = append(sections, m.renderProgress())
	default:
		sections = append(sections, m.renderEnrichment())
	}

	sections = append(sections, "", m.help.View(m.keymap))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderProgress() string {
	label := "Checking your balance..."
	if m.session.Stage == model.StageAnalyzing {
		label = "The stylist is looking at your outfit..."
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.theme.Normal.Render(label))
}

func (m Model) renderEnrichment() string {
	suggestions := m.session.Result.Suggestions
	if len(suggestions) == 0 {
		return m.theme.StatusSuccess.Render("Critique ready.")
	}

	var b strings.Builder
	found := 0
	for _, sug := range suggestions {
		status := m.theme.StatusPending.Render("searching")
		if len(sug.Results) > 0 {
			found++
			status = m.theme.StatusSuccess.Render(fmt.Sprintf("%d images", len(sug.Results)))
		} else if m.session.Enrichment != model.StageSearchingImages {
			status = m.theme.Muted.Render("none found")
		}
		fmt.Fprintf(&b, "  %-28s %s\n", sug.ItemName, status)
	}

	header := fmt.Sprintf("%s Finding pieces to shop (%d/%d)", m.spinner.View(), found, len(suggestions))
	if m.session.Enrichment != model.StageSearchingImages {
		header = m.theme.StatusSuccess.Render("Suggestions ready.")
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderError() string {
	return m.theme.RoundedBox.Render(m.theme.StatusError.Render(common.UserMessage(m.err)))
}
