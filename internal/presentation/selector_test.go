package presentation

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestSelector_DownThenEnterPicksSecondOption(t *testing.T) {
	m := newSelector("pick one", []string{"engineering", "sales"})

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(selector)
	if m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", m.cursor)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(selector)
	if m.choice != "sales" {
		t.Fatalf("choice = %q, want %q", m.choice, "sales")
	}
	if cmd == nil {
		t.Fatal("expected tea.Quit command after enter")
	}
}

func TestSelector_CursorClampedAtBounds(t *testing.T) {
	m := newSelector("pick one", []string{"only"})
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(selector)
	if m.cursor != 0 {
		t.Fatalf("cursor should not move past the last option, got %d", m.cursor)
	}
}

func TestSelector_QPressedSetsQuit(t *testing.T) {
	m := newSelector("pick one", []string{"a", "b"})
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(selector)
	if !m.quit {
		t.Fatal("expected quit to be set after 'q'")
	}
}
