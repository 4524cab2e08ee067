package tui

import (
	"strings"
	"testing"

	"council/internal/council"
)

func metas(ids ...string) []council.Meta {
	out := make([]council.Meta, len(ids))
	for i, id := range ids {
		out[i] = council.Meta{ID: id, Title: "title " + id}
	}
	return out
}

func TestSetMetasKeepsSelection(t *testing.T) {
	t.Parallel()

	var m SidebarModel
	m.SetMetas(metas("a", "b", "c"))
	m.Select("b")

	m.SetMetas(metas("c", "b", "a"))
	if got := m.SelectedID(); got != "b" {
		t.Fatalf("selection after refresh = %q, want %q", got, "b")
	}

	m.SetMetas(metas("x", "y"))
	if got := m.SelectedID(); got != "x" {
		t.Fatalf("selection after row vanished = %q, want %q", got, "x")
	}
}

func TestRemoveKeepsCursorOnFollowingRow(t *testing.T) {
	t.Parallel()

	var m SidebarModel
	m.SetMetas(metas("a", "b", "c"))
	m.SelectIndex(1)

	removed, ok := m.Remove(1)
	if !ok || removed.ID != "b" {
		t.Fatalf("Remove(1) = %v, %v", removed, ok)
	}
	if got := m.SelectedID(); got != "c" {
		t.Fatalf("selection after remove = %q, want %q", got, "c")
	}

	if _, ok := m.Remove(5); ok {
		t.Fatalf("Remove out of range succeeded")
	}
}

func TestInsertClampsIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		index int
		want  []string
	}{
		{"front", 0, []string{"x", "a", "b"}},
		{"middle", 1, []string{"a", "x", "b"}},
		{"past end", 9, []string{"a", "b", "x"}},
		{"negative", -2, []string{"x", "a", "b"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var m SidebarModel
			m.SetMetas(metas("a", "b"))
			m.Insert(council.Meta{ID: "x"}, tt.index)

			got := make([]string, 0, m.Len())
			for _, meta := range m.Metas() {
				got = append(got, meta.ID)
			}
			if !equalStrings(got, tt.want) {
				t.Fatalf("rows = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoveClampsAtEdges(t *testing.T) {
	t.Parallel()

	var m SidebarModel
	m.SetMetas(metas("a", "b"))

	m.MoveUp()
	if got := m.SelectedID(); got != "a" {
		t.Fatalf("selection above top = %q", got)
	}
	m.MoveDown()
	m.MoveDown()
	m.MoveDown()
	if got := m.SelectedID(); got != "b" {
		t.Fatalf("selection below bottom = %q", got)
	}
}

func TestUpdateTitleRewritesRowInPlace(t *testing.T) {
	t.Parallel()

	var m SidebarModel
	m.SetMetas(metas("a", "b"))
	m.UpdateTitle("b", "Renamed")
	if got := m.Metas()[1].Title; got != "Renamed" {
		t.Fatalf("title = %q, want %q", got, "Renamed")
	}
}

func TestRenderMarksRows(t *testing.T) {
	t.Parallel()

	theme := ResolveTheme("dark")
	var m SidebarModel
	m.SetMetas([]council.Meta{
		{ID: "a", Title: "First", MessageCount: 4},
		{ID: "b", Title: ""},
		{ID: "c", Title: "Quick", Mode: council.ModeChat},
	})

	view := m.Render(0, theme, true, "")
	if !strings.Contains(view, "First (4)") {
		t.Fatalf("message count missing from %q", view)
	}
	if !strings.Contains(view, "New conversation") {
		t.Fatalf("untitled fallback missing from %q", view)
	}
	if !strings.Contains(view, "Quick [chat]") {
		t.Fatalf("chat marker missing from %q", view)
	}
}
