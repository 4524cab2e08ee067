package tui

import (
	"fmt"
	"strings"

	"council/internal/council"
	"council/internal/trash"
)

// SidebarModel renders the conversation list and tracks the selection.
type SidebarModel struct {
	metas  []council.Meta
	cursor int
	height int
}

// NewSidebarModel constructs an empty sidebar.
func NewSidebarModel() SidebarModel {
	return SidebarModel{}
}

// SetMetas replaces the list, keeping the selection on the same
// conversation when it still exists.
func (m *SidebarModel) SetMetas(metas []council.Meta) {
	selected := m.SelectedID()
	m.metas = metas
	m.cursor = 0
	for i, meta := range metas {
		if meta.ID == selected {
			m.cursor = i
			break
		}
	}
	m.clamp()
}

// Metas returns the current list.
func (m SidebarModel) Metas() []council.Meta {
	return m.metas
}

// Len returns the number of rows.
func (m SidebarModel) Len() int {
	return len(m.metas)
}

// SetHeight configures visible row count.
func (m *SidebarModel) SetHeight(height int) {
	if height < 0 {
		height = 0
	}
	m.height = height
}

// SelectedID returns the id under the cursor, or "".
func (m SidebarModel) SelectedID() string {
	if m.cursor < 0 || m.cursor >= len(m.metas) {
		return ""
	}
	return m.metas[m.cursor].ID
}

// Selected returns the row under the cursor.
func (m SidebarModel) Selected() (council.Meta, int, bool) {
	if m.cursor < 0 || m.cursor >= len(m.metas) {
		return council.Meta{}, -1, false
	}
	return m.metas[m.cursor], m.cursor, true
}

// MoveUp moves the cursor one row up.
func (m *SidebarModel) MoveUp() {
	m.cursor--
	m.clamp()
}

// MoveDown moves the cursor one row down.
func (m *SidebarModel) MoveDown() {
	m.cursor++
	m.clamp()
}

// Select moves the cursor to the row with the given id.
func (m *SidebarModel) Select(id string) {
	for i, meta := range m.metas {
		if meta.ID == id {
			m.cursor = i
			return
		}
	}
}

// SelectIndex moves the cursor to index, clamped.
func (m *SidebarModel) SelectIndex(index int) {
	m.cursor = index
	m.clamp()
}

// Remove drops the row at index and returns the removed meta. The
// cursor stays on the following row.
func (m *SidebarModel) Remove(index int) (council.Meta, bool) {
	metas, removed, ok := trash.RemoveAt(m.metas, index)
	if !ok {
		return council.Meta{}, false
	}
	m.metas = metas
	m.clamp()
	return removed, true
}

// Insert puts meta back at index, clamped to the current length.
func (m *SidebarModel) Insert(meta council.Meta, index int) {
	m.metas = trash.Reinsert(m.metas, trash.Pending{Meta: meta, Index: index})
	m.clamp()
}

// UpdateTitle sets the title of a row in place.
func (m *SidebarModel) UpdateTitle(id, title string) {
	for i := range m.metas {
		if m.metas[i].ID == id {
			m.metas[i].Title = title
			return
		}
	}
}

// Render draws the list; pendingID marks a row mid-delete.
func (m SidebarModel) Render(width int, theme Theme, focused bool, pendingID string) string {
	if len(m.metas) == 0 {
		return renderPanel(width, theme.SidebarStyle, "No conversations.\nctrl+n to start one.")
	}

	rows := m.metas
	start := 0
	if m.height > 0 && len(rows) > m.height {
		start = m.cursor - m.height/2
		if start < 0 {
			start = 0
		}
		if start+m.height > len(rows) {
			start = len(rows) - m.height
		}
		rows = rows[start : start+m.height]
	}

	lines := make([]string, 0, len(rows))
	for i, meta := range rows {
		index := start + i
		label := meta.Title
		if strings.TrimSpace(label) == "" {
			label = "New conversation"
		}
		if meta.MessageCount > 0 {
			label = fmt.Sprintf("%s (%d)", label, meta.MessageCount)
		}
		if meta.Mode == council.ModeChat {
			label = label + " [chat]"
		}

		switch {
		case meta.ID == pendingID:
			lines = append(lines, theme.PendingRowStyle.Render(label))
		case index == m.cursor && focused:
			lines = append(lines, theme.SelectedRowStyle.Render("> "+label))
		case index == m.cursor:
			lines = append(lines, "> "+label)
		default:
			lines = append(lines, "  "+label)
		}
	}
	return renderPanel(width, theme.SidebarStyle, strings.Join(lines, "\n"))
}

func (m *SidebarModel) clamp() {
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.metas) {
		m.cursor = len(m.metas) - 1
	}
	if len(m.metas) == 0 {
		m.cursor = 0
	}
}
