package status

import (
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/bnema/multisession/internal/domain"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

type renderReadyMsg struct{}

type model struct {
	statuses []domain.SessionStatus
	opts     RenderOptions
	styles   styles
	output   string
}

func newModel(statuses []domain.SessionStatus, opts RenderOptions) model {
	sorted := slices.Clone(statuses)
	slices.SortFunc(sorted, func(a, b domain.SessionStatus) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	return model{
		statuses: sorted,
		opts:     opts,
		styles:   newStyles(),
	}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		return renderReadyMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case renderReadyMsg:
		m.output = renderView(m.statuses, m.opts, m.styles)
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m model) View() string {
	return m.output
}

// Render draws the session snapshots ordered by session id, one block per
// session. The caller's slice is left untouched.
func Render(statuses []domain.SessionStatus, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		newModel(statuses, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}

	return rendered.View(), nil
}
