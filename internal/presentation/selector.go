// Package presentation implements the interactive terminal prompts the
// client falls back to when a gateway offers more than one login
// choice, adapted from presentation/bubble_tea/selector.go's bubbletea
// model.
package presentation

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// selector is a bubbletea model for a single-choice, up/down-navigated
// list prompt.
type selector struct {
	placeholder string
	options     []string
	cursor      int
	choice      string
	checked     int
	quit        bool
}

func newSelector(placeholder string, options []string) selector {
	return selector{placeholder: placeholder, options: options, checked: -1}
}

func (m selector) Init() tea.Cmd {
	return nil
}

func (m selector) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down":
			if m.cursor < len(m.options)-1 {
				m.cursor++
			}
		case "enter":
			m.choice = m.options[m.cursor]
			m.checked = m.cursor
			return m, tea.Quit
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m selector) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", m.placeholder)
	for i, opt := range m.options {
		box := "[ ]"
		if m.checked == i {
			box = "[x]"
		}
		line := fmt.Sprintf("%s %s", box, opt)
		if m.cursor == i {
			line = "\033[1;32m" + line + "\033[0m"
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nuse up/down, enter to select, q to cancel\n")
	return b.String()
}

// GroupSelector implements auth.GroupChooser with an interactive
// terminal prompt.
type GroupSelector struct{}

// Choose runs the selector program and returns the chosen option.
func (GroupSelector) Choose(prompt string, options []string) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("presentation: no options to choose from")
	}
	m := newSelector(prompt, options)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return "", fmt.Errorf("presentation: running selector: %w", err)
	}
	result := final.(selector)
	if result.quit || result.choice == "" {
		return "", fmt.Errorf("presentation: selection cancelled")
	}
	return result.choice, nil
}
