package style

import (
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

type spinDoneMsg struct{}

type spinModel struct {
	spinner spinner.Model
	label   string
	done    bool
}

func newSpinModel(label string) spinModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = Info
	return spinModel{spinner: sp, label: label}
}

func (m spinModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + Dim.Render(m.label)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Spin runs fn while a spinner labelled label animates on w. When w is not a
// terminal fn runs without any output. Input and signals are left alone so
// Ctrl+C still cancels the caller's context.
func Spin[T any](w io.Writer, label string, fn func() (T, error)) (T, error) {
	if !IsTerminal(w) {
		return fn()
	}

	p := tea.NewProgram(newSpinModel(label),
		tea.WithOutput(w),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	var (
		v   T
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err = fn()
		p.Send(spinDoneMsg{})
	}()
	// The spinner is cosmetic; a failed program still waits for fn.
	_, _ = p.Run()
	<-done
	return v, err
}
