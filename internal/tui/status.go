package tui

import (
	"fmt"
	"strings"
	"time"
)

// StatusModel renders the top status bar.
type StatusModel struct {
	Version   string
	ServerURL string
	Title     string
	State     string

	remaining    int
	hasRemaining bool

	countdown time.Duration
	deleting  bool
}

// NewStatusModel constructs status data for rendering.
func NewStatusModel(version, serverURL string) StatusModel {
	return StatusModel{
		Version:   strings.TrimSpace(version),
		ServerURL: strings.TrimSpace(serverURL),
		State:     "idle",
	}
}

// SetState updates the runtime state token.
func (m *StatusModel) SetState(state string) {
	m.State = strings.TrimSpace(state)
	if m.State == "" {
		m.State = "idle"
	}
}

// SetTitle updates the active conversation title.
func (m *StatusModel) SetTitle(title string) {
	m.Title = strings.TrimSpace(title)
}

// SetRemaining updates the remaining-message quota readout.
func (m *StatusModel) SetRemaining(remaining int) {
	m.remaining = remaining
	m.hasRemaining = true
}

// SetCountdown shows the delete countdown; a zero duration hides it.
func (m *StatusModel) SetCountdown(remaining time.Duration) {
	m.countdown = remaining
	m.deleting = remaining > 0
}

// ClearCountdown hides the delete countdown.
func (m *StatusModel) ClearCountdown() {
	m.countdown = 0
	m.deleting = false
}

// Render draws a one-line status bar.
func (m StatusModel) Render(width int, theme Theme) string {
	parts := []string{
		"council " + fallbackText(m.Version, "dev"),
		fallbackText(m.ServerURL, "no server"),
		fallbackText(m.Title, "no conversation"),
		"state: " + fallbackText(m.State, "idle"),
	}
	if m.hasRemaining {
		parts = append(parts, fmt.Sprintf("quota: %d", m.remaining))
	}
	if m.deleting {
		seconds := int(m.countdown.Round(time.Second) / time.Second)
		parts = append(parts, fmt.Sprintf("deleting in %ds (ctrl+u undo)", seconds))
	}

	line := strings.Join(parts, " | ")
	style := theme.StatusBarStyle
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(line)
}

func fallbackText(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
