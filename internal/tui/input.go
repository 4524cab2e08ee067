package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// InputModel wraps the single-line prompt at the bottom of the screen.
type InputModel struct {
	field  textinput.Model
	prompt string
}

// NewInputModel constructs the input state.
func NewInputModel(prompt, placeholder string, theme Theme) InputModel {
	p := strings.TrimSpace(prompt)
	if p == "" {
		p = ">"
	}

	field := textinput.New()
	field.Prompt = ""
	field.Placeholder = placeholder
	field.TextStyle = theme.InputTextStyle
	field.PlaceholderStyle = theme.InputPlaceholderTextStyle
	field.Focus()

	return InputModel{field: field, prompt: p}
}

// Value returns current raw input text.
func (m InputModel) Value() string {
	return m.field.Value()
}

// SetValue replaces input text.
func (m *InputModel) SetValue(value string) {
	m.field.SetValue(value)
}

// Clear resets input text.
func (m *InputModel) Clear() {
	m.field.SetValue("")
}

// Focus gives the field keyboard focus.
func (m *InputModel) Focus() {
	m.field.Focus()
}

// Blur removes keyboard focus.
func (m *InputModel) Blur() {
	m.field.Blur()
}

// Focused reports whether the field has keyboard focus.
func (m InputModel) Focused() bool {
	return m.field.Focused()
}

// Update feeds one message to the underlying text input.
func (m *InputModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.field, cmd = m.field.Update(msg)
	return cmd
}

// SetWidth sizes the field to the available columns.
func (m *InputModel) SetWidth(width int) {
	if width > len(m.prompt)+1 {
		m.field.Width = width - len(m.prompt) - 1
	}
}

// Render draws the input line.
func (m InputModel) Render(width int, theme Theme) string {
	line := theme.InputPromptStyle.Render(m.prompt+" ") + m.field.View()
	if width > 0 {
		return lipgloss.NewStyle().Width(width).Render(line)
	}
	return line
}
