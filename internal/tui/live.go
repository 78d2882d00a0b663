package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"memsim/internal/integrate"
	"memsim/internal/membrane"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("238")).
		Padding(0, 2)
)

const historyLen = 120

// statusMsg carries one integrator sample into the tea event loop.
type statusMsg struct {
	sample integrate.Sample
	area   float64
	volume float64
}

type doneMsg struct{ status integrate.Status }

type model struct {
	name    string
	sample  integrate.Sample
	area    float64
	volume  float64
	history []float64
	status  integrate.Status
	done    bool
	width   int
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case statusMsg:
		m.sample = msg.sample
		m.area = msg.area
		m.volume = msg.volume
		m.history = append(m.history, msg.sample.Energy.Total)
		if len(m.history) > historyLen {
			m.history = m.history[1:]
		}
	case doneMsg:
		m.done = true
		m.status = msg.status
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(cyan.Render(fmt.Sprintf(" %s", m.name)))
	b.WriteString(dim.Render(fmt.Sprintf("   iter %d   t=%.5g   dt=%.3g\n",
		m.sample.Iteration, m.sample.Time, m.sample.Dt)))

	e := m.sample.Energy
	rows := []string{
		row("total", e.Total, white),
		row("kinetic", e.Kinetic, dim),
		row("bending", e.Bending, dim),
		row("stretching", e.Stretching, dim),
		row("pressure", e.PressureWork, dim),
		row("chemical", e.Chemical, dim),
		row("line tension", e.LineTension, dim),
		row("external", e.ExternalWork, dim),
	}
	left := panel.Render(strings.Join(rows, "\n"))

	resStyle := yellow
	if m.sample.Residual < 1e-4 {
		resStyle = green
	}
	right := panel.Render(strings.Join([]string{
		fmt.Sprintf("%s %s", dim.Render("residual    "), resStyle.Render(fmt.Sprintf("%11.4e", m.sample.Residual))),
		row("area dev", m.sample.DArea, dim),
		row("volume dev", m.sample.DVolume, dim),
		row("area", m.area, dim),
		row("volume", m.volume, dim),
	}, "\n"))

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	b.WriteString("\n")

	if len(m.history) > 2 {
		b.WriteString(dim.Render(asciigraph.Plot(m.history,
			asciigraph.Height(8), asciigraph.Width(60),
			asciigraph.Caption("total energy"))))
		b.WriteString("\n")
	}

	if m.done {
		style := green
		if !m.status.Success() {
			style = red
		}
		b.WriteString(style.Render(fmt.Sprintf(" %s\n", m.status)))
	} else {
		b.WriteString(dim.Render(" q to stop\n"))
	}
	return b.String()
}

func row(label string, v float64, style lipgloss.Style) string {
	return fmt.Sprintf("%s %s", dim.Render(fmt.Sprintf("%-12s", label)), style.Render(fmt.Sprintf("%11.4e", v)))
}

// LiveMonitor renders a run dashboard, fed through the Observer interface
// from the integration goroutine.
type LiveMonitor struct {
	prog *tea.Program
	done chan error
}

var _ integrate.Observer = (*LiveMonitor)(nil)

// NewLiveMonitor starts the dashboard for the named run.
func NewLiveMonitor(name string) *LiveMonitor {
	m := &LiveMonitor{done: make(chan error, 1)}
	m.prog = tea.NewProgram(model{name: name})
	go func() {
		_, err := m.prog.Run()
		m.done <- err
	}()
	return m
}

// OnStatus implements integrate.Observer.
func (m *LiveMonitor) OnStatus(s *membrane.System, sample integrate.Sample) {
	m.prog.Send(statusMsg{sample: sample, area: s.SurfaceArea(), volume: s.Volume()})
}

// Finish shows the terminal status and waits for the display to exit.
func (m *LiveMonitor) Finish(status integrate.Status) error {
	m.prog.Send(doneMsg{status: status})
	return <-m.done
}
