// SPDX-License-Identifier: MIT
// Package tui holds the Bubble Tea front ends: the live session monitor and
// the interactive device picker.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"rosettas/internal/analysis"
	"rosettas/internal/pipeline"
	"rosettas/internal/significance"
	"rosettas/internal/stability"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	integrityBarWidth = 24
	levelBarWidth     = 24
	validateTimeout   = 10 * time.Second
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D7D7D")).
			Width(14)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E05252"))

	stateStyles = map[stability.State]lipgloss.Style{
		stability.Inactive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")),
		stability.Evolving:   lipgloss.NewStyle().Foreground(lipgloss.Color("#3C91E6")).Bold(true),
		stability.Stable:     lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065")).Bold(true),
		stability.Stochastic: lipgloss.NewStyle().Foreground(lipgloss.Color("#E6A23C")).Bold(true),
		stability.Artifact:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E05252")).Bold(true),
	}
)

// Session is the part of the pipeline the monitor reads and drives.
type Session interface {
	Latest() (pipeline.Frame, bool)
	Len() int
	ClusterCount() int
	Params() pipeline.Params
	LastValidation() (significance.Metrics, bool)
	Validate(ctx context.Context) (significance.Metrics, bool, error)
	Reset()
}

// LevelMeter reports the RMS input level, 0..1.
type LevelMeter interface {
	Level() float64
}

type monitorKeys struct {
	Validate key.Binding
	Reset    key.Binding
	Quit     key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Validate, k.Reset, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultMonitorKeys = monitorKeys{
	Validate: key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "validate")),
	Reset:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type frameMsg pipeline.Frame

// framesClosedMsg is sent once the subscription channel is closed.
type framesClosedMsg struct{}

type validationMsg struct {
	metrics significance.Metrics
	ok      bool
	err     error
}

// MonitorModel is the Bubble Tea model of a live session.
type MonitorModel struct {
	session Session
	meter   LevelMeter
	frames  <-chan pipeline.Frame
	keys    monitorKeys
	help    help.Model

	frame      pipeline.Frame
	hasFrame   bool
	archetypes int
	fill       int
	level      float64
	validation *significance.Metrics
	validating bool
	status     string
	err        error
	width      int
}

// NewMonitorModel returns a monitor fed by frames. meter may be nil.
func NewMonitorModel(session Session, frames <-chan pipeline.Frame, meter LevelMeter) MonitorModel {
	m := MonitorModel{
		session: session,
		meter:   meter,
		frames:  frames,
		keys:    defaultMonitorKeys,
		help:    help.New(),
	}
	if v, ok := session.LastValidation(); ok {
		m.validation = &v
	}
	return m
}

func (m MonitorModel) Init() tea.Cmd {
	return waitForFrame(m.frames)
}

func waitForFrame(frames <-chan pipeline.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-frames
		if !ok {
			return framesClosedMsg{}
		}
		return frameMsg(f)
	}
}

func validate(session Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
		defer cancel()
		metrics, ok, err := session.Validate(ctx)
		return validationMsg{metrics: metrics, ok: ok, err: err}
	}
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case frameMsg:
		m.frame = pipeline.Frame(msg)
		m.hasFrame = true
		m.archetypes = m.session.ClusterCount()
		m.fill = m.session.Len()
		if m.meter != nil {
			m.level = m.meter.Level()
		}
		return m, waitForFrame(m.frames)

	case framesClosedMsg:
		m.status = "input stopped"

	case validationMsg:
		m.validating = false
		switch {
		case msg.err != nil:
			m.err = msg.err
		case !msg.ok:
			m.status = fmt.Sprintf("not enough tokens to validate (need %d)",
				m.session.Params().Significance.MinTokens)
		default:
			v := msg.metrics
			m.validation = &v
			m.status = ""
			m.err = nil
		}

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Validate):
			if m.validating {
				return m, nil
			}
			m.validating = true
			m.status = "validating..."
			return m, validate(m.session)

		case key.Matches(msg, m.keys.Reset):
			m.session.Reset()
			m.hasFrame = false
			m.frame = pipeline.Frame{}
			m.archetypes = 0
			m.fill = 0
			m.validation = nil
			m.err = nil
			m.status = "session reset"
		}
	}

	return m, nil
}

func (m MonitorModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Rosettas Monitor"))
	sb.WriteString("\n\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(infoStyle.Render(value))
		sb.WriteString("\n")
	}

	if !m.hasFrame {
		row("Frequency", "waiting for input...")
	} else {
		f := m.frame
		row("Frequency", fmt.Sprintf("%.1f Hz", f.Frequency))
		row("Token", f.Token.Label)
		cluster := f.ClusterID
		if cluster == "" {
			cluster = "-"
		}
		row("Cluster", cluster)
		sb.WriteString(labelStyle.Render("State"))
		sb.WriteString(stateStyle(f.State).Render(f.State.String()))
		sb.WriteString("\n")
		row("Integrity", fmt.Sprintf("%s %3.0f%%", bar(f.StructuralIntegrity, integrityBarWidth), f.StructuralIntegrity*100))
	}

	if m.meter != nil {
		row("Level", fmt.Sprintf("%s %6.1f dBFS", bar(m.level, levelBarWidth), analysis.DBFS(m.level)))
	}
	row("Archetypes", fmt.Sprintf("%d", m.archetypes))
	row("History", fmt.Sprintf("%d/%d", m.fill, m.session.Params().MaxHistory))

	if m.validation == nil {
		row("Validation", "none")
	} else {
		v := m.validation
		sb.WriteString(labelStyle.Render("Validation"))
		sb.WriteString(highlightStyle.Render(string(v.Verdict)))
		sb.WriteString(infoStyle.Render(fmt.Sprintf(" Z=%.2f H=%.2f bits", v.ZScore, v.Entropy)))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if m.err != nil {
		sb.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		sb.WriteString("\n")
	} else if m.status != "" {
		sb.WriteString(infoStyle.Render(m.status))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func stateStyle(s stability.State) lipgloss.Style {
	if st, ok := stateStyles[s]; ok {
		return st
	}
	return infoStyle
}

// bar renders v (clamped to 0..1) as a horizontal gauge of width cells.
func bar(v float64, width int) string {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	filled := int(math.Round(v * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// RunMonitor runs the monitor until the user quits or ctx is done.
func RunMonitor(ctx context.Context, session Session, frames <-chan pipeline.Frame, meter LevelMeter) error {
	p := tea.NewProgram(
		NewMonitorModel(session, frames, meter),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
