package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"council/internal/council"
)

// TranscriptModel renders the active conversation inside a scrollable
// viewport: user turns, per-stage member progress while streaming, and
// markdown-rendered results once text stops changing.
type TranscriptModel struct {
	view     viewport.Model
	markdown *glamour.TermRenderer
	theme    Theme
	width    int
	ready    bool
}

// NewTranscriptModel constructs an empty transcript panel.
func NewTranscriptModel(theme Theme) TranscriptModel {
	return TranscriptModel{theme: theme}
}

// SetSize resizes the viewport and rebuilds the markdown renderer for
// the new wrap width.
func (m *TranscriptModel) SetSize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if !m.ready {
		m.view = viewport.New(width, height)
		m.ready = true
	} else {
		m.view.Width = width
		m.view.Height = height
	}
	if width != m.width {
		m.width = width
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.theme.GlamourStyle),
			glamour.WithWordWrap(width-2),
		)
		if err == nil {
			m.markdown = renderer
		}
	}
}

// ScrollUp moves the viewport up by lines.
func (m *TranscriptModel) ScrollUp(lines int) {
	m.view.LineUp(lines)
}

// ScrollDown moves the viewport down by lines.
func (m *TranscriptModel) ScrollDown(lines int) {
	m.view.LineDown(lines)
}

// PageUp scrolls one viewport up.
func (m *TranscriptModel) PageUp() {
	m.view.ViewUp()
}

// PageDown scrolls one viewport down.
func (m *TranscriptModel) PageDown() {
	m.view.ViewDown()
}

// SetConversation rebuilds the transcript content from a snapshot. A
// transcript that was scrolled to the bottom stays pinned there as new
// text streams in.
func (m *TranscriptModel) SetConversation(conv *council.Conversation, streaming bool) {
	wasAtBottom := !m.ready || m.view.AtBottom()
	m.view.SetContent(m.renderConversation(conv, streaming))
	if wasAtBottom {
		m.view.GotoBottom()
	}
}

// Render draws the transcript panel.
func (m TranscriptModel) Render(width int) string {
	if !m.ready {
		return renderPanel(width, m.theme.PanelStyle, "Open a conversation to get started.")
	}
	return renderPanel(width, m.theme.PanelStyle, m.view.View())
}

func (m *TranscriptModel) renderConversation(conv *council.Conversation, streaming bool) string {
	if conv == nil || len(conv.Messages) == 0 {
		return "Send a message to convene the council."
	}

	sections := make([]string, 0, len(conv.Messages))
	for i, message := range conv.Messages {
		last := i == len(conv.Messages)-1
		switch message.Role {
		case council.RoleUser:
			sections = append(sections, m.renderUser(message))
		case council.RoleAssistant:
			sections = append(sections, m.renderAssistant(message, streaming && last))
		}
	}
	return strings.Join(sections, "\n\n")
}

func (m *TranscriptModel) renderUser(message *council.Message) string {
	return m.theme.UserPrefixStyle.Render("you:") + " " + strings.TrimSpace(message.Content)
}

func (m *TranscriptModel) renderAssistant(message *council.Message, live bool) string {
	if message.Error && message.Response == "" && len(message.Stages) == 0 {
		return m.theme.ErrorStyle.Render("The council could not answer.")
	}

	if len(message.Stages) == 0 {
		return m.renderSpeaker(message, live)
	}

	parts := make([]string, 0, len(message.Stages))
	for _, stage := range message.Stages {
		if stage == nil {
			continue
		}
		parts = append(parts, m.renderStage(stage, live))
	}
	return strings.Join(parts, "\n\n")
}

func (m *TranscriptModel) renderSpeaker(message *council.Message, live bool) string {
	header := m.theme.MemberPrefixStyle.Render(fallbackText(message.Model, "speaker") + ":")
	text := message.Response
	if text == "" && live {
		return header + " …"
	}
	if message.Error {
		return header + "\n" + m.theme.FailedResultStyle.Render(strings.TrimSpace(text))
	}
	if live {
		return header + "\n" + strings.TrimSpace(text)
	}
	return header + "\n" + m.renderMarkdown(text)
}

func (m *TranscriptModel) renderStage(stage *council.Stage, live bool) string {
	header := fallbackText(stage.Name, "Stage")
	switch stage.Status {
	case council.StageRunning:
		header += " — running"
	case council.StageCancelled:
		header += " — cancelled"
	}
	lines := []string{m.theme.StageHeaderStyle.Render(header)}

	if stage.Kind == council.StageKindSynthesis {
		if stage.Synthesis != nil {
			lines = append(lines, m.renderResult(stage.Synthesis, stage, live))
		}
		return strings.Join(lines, "\n")
	}

	for i, result := range stage.Results {
		if result == nil {
			continue
		}
		name := fallbackText(result.Model, fmt.Sprintf("Member %d", i+1))
		lines = append(lines, m.theme.MemberPrefixStyle.Render(name+":"))
		lines = append(lines, m.renderResult(result, stage, live))
	}

	if len(stage.AggregateRankings) > 0 {
		lines = append(lines, m.renderAggregate(stage))
	}
	return strings.Join(lines, "\n")
}

func (m *TranscriptModel) renderResult(result *council.MemberResult, stage *council.Stage, live bool) string {
	if result.Status == council.MemberStatusFailed {
		detail := fallbackText(result.Error, "request failed")
		return m.theme.FailedResultStyle.Render("✗ " + detail)
	}

	text := result.Response
	if stage.Kind == council.StageKindRankings {
		text = result.Ranking
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "…"
	}
	if live || stage.Status == council.StageRunning {
		return text
	}
	return m.renderMarkdown(text)
}

func (m *TranscriptModel) renderAggregate(stage *council.Stage) string {
	lines := []string{m.theme.StageHeaderStyle.Render("Aggregate ranking:")}
	for i, rank := range stage.AggregateRankings {
		lines = append(lines, fmt.Sprintf("  %d. %s (avg %.2f over %d)", i+1, rank.Model, rank.AverageRank, rank.RankingsCount))
	}
	return strings.Join(lines, "\n")
}

// renderMarkdown renders completed text through glamour, falling back
// to the plain text when rendering fails.
func (m *TranscriptModel) renderMarkdown(text string) string {
	text = strings.TrimSpace(text)
	if m.markdown == nil {
		return text
	}
	rendered, err := m.markdown.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

func renderPanel(width int, style lipgloss.Style, content string) string {
	if width > 0 {
		return style.Width(width).Render(content)
	}
	return style.Render(content)
}
