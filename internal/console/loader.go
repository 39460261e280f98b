package console

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobscout/internal/model"
)

// RunFunc performs the work shown behind the spinner.
type RunFunc func(ctx context.Context) (model.Summary, error)

type runDoneMsg struct {
	summary model.Summary
	err     error
}

type loaderModel struct {
	label   string
	run     RunFunc
	ctx     context.Context
	cancel  context.CancelFunc
	spinner spinner.Model
	summary model.Summary
	err     error
	done    bool
}

func newLoaderModel(ctx context.Context, label string, run RunFunc) loaderModel {
	ctx, cancel := context.WithCancel(ctx)
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("33"))),
	)
	return loaderModel{label: label, run: run, ctx: ctx, cancel: cancel, spinner: s}
}

func (m loaderModel) Init() tea.Cmd {
	return tea.Batch(m.doRun(), m.spinner.Tick)
}

func (m loaderModel) doRun() tea.Cmd {
	run, ctx := m.run, m.ctx
	return func() tea.Msg {
		summary, err := run(ctx)
		return runDoneMsg{summary: summary, err: err}
	}
}

func (m loaderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runDoneMsg:
		m.summary = msg.summary
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			// The run stops at the next organization boundary and reports back.
			m.cancel()
			m.label = "Stopping after the current organization"
		}
	}
	return m, nil
}

func (m loaderModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s...\n", m.spinner.View(), m.label)
}

// RunWithSpinner shows a spinner while run executes. It renders inline (no alt screen).
// Ctrl+C cancels the context handed to run and waits for it to return.
func RunWithSpinner(ctx context.Context, label string, run RunFunc) (model.Summary, error) {
	m := newLoaderModel(ctx, label, run)
	defer m.cancel()

	result, err := tea.NewProgram(m).Run()
	if err != nil {
		return model.Summary{}, err
	}
	final := result.(loaderModel)
	return final.summary, final.err
}
