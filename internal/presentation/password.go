package presentation

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/textinput"
)

// passwordPrompt is a bubbletea model for a single masked text field,
// adapted from bubble_tea/text_area.go's pattern of wrapping a bubbles
// component for one-shot interactive input.
type passwordPrompt struct {
	ti   textinput.Model
	done bool
}

func newPasswordPrompt(placeholder string) passwordPrompt {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '*'
	ti.Focus()
	return passwordPrompt{ti: ti}
}

func (m passwordPrompt) Init() tea.Cmd {
	return textinput.Blink
}

func (m passwordPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m passwordPrompt) View() string {
	return fmt.Sprintf("%s\n\n%s\n", m.ti.Placeholder, m.ti.View())
}

// PromptPassword interactively reads a masked password from the
// terminal, used when the caller didn't supply one on the command
// line.
func PromptPassword(prompt string) (string, error) {
	m := newPasswordPrompt(prompt)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return "", fmt.Errorf("presentation: running password prompt: %w", err)
	}
	result := final.(passwordPrompt)
	if !result.done {
		return "", fmt.Errorf("presentation: password entry cancelled")
	}
	return result.ti.Value(), nil
}
