package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type pairingDoneMsg struct {
	code string
	err  error
}

type pairingSpinnerModel struct {
	spinner spinner.Model
	label   string
	request tea.Cmd
	code    string
	err     error
	done    bool
}

func newPairingSpinnerModel(label string, request tea.Cmd) pairingSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return pairingSpinnerModel{
		spinner: s,
		label:   label,
		request: request,
	}
}

func (m pairingSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.request)
}

func (m pairingSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case pairingDoneMsg:
		m.done = true
		m.code = msg.code
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m pairingSpinnerModel) View() string {
	if m.done {
		return ""
	}

	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

// runPairingSpinner animates on output until request returns.
func runPairingSpinner(ctx context.Context, output io.Writer, number string, request func(context.Context) (string, error)) (string, error) {
	requestCmd := func() tea.Msg {
		code, err := request(ctx)
		return pairingDoneMsg{code: code, err: err}
	}

	p := tea.NewProgram(
		newPairingSpinnerModel(fmt.Sprintf("Requesting pairing code for %s...", number), requestCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(pairingSpinnerModel)
	if !ok {
		return "", fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.code, result.err
}
