// Package tui is an interactive terminal debugger: a header line with the
// live pc, sp and registered Objective-C class count, and a scrolling
// dispatch trace, built as
// a Bubble Tea program. It is the idiomatic-Go replacement for the
// teacher's hand-rolled ANSI colorizer (internal/ui/colorize) — a real
// tea.Model with bubbles/viewport and lipgloss styling in place of raw
// escape codes threaded through fmt.Sprintf calls.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/hle-go/corehle/internal/environment"
	"github.com/hle-go/corehle/internal/log"
	"github.com/hle-go/corehle/internal/mem"
	"github.com/hle-go/corehle/internal/trace"
)

var (
	addrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	tagStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const maxEvents = 2048

// traceMsg carries one dispatch event from internal/log's trace callback
// into the Bubble Tea update loop.
type traceMsg *trace.Event

// doneMsg reports that the guest program's entry point has returned to
// the host sentinel.
type doneMsg struct{}

// Model is the Bubble Tea model driving the debugger view. It owns no
// emulation state itself — it only observes env and renders what it
// reports.
type Model struct {
	env   *environment.Environment
	entry mem.GuestUSize

	events   []*trace.Event
	eventsCh chan *trace.Event

	vp       viewport.Model
	finished bool
}

// New builds a debugger Model bound to env, ready to run entry once
// started. Callers should not have started emulation yet — Run drives
// the CPU itself, in a goroutine, so the UI stays responsive while guest
// code executes.
func New(env *environment.Environment, entry mem.GuestUSize) *Model {
	vp := viewport.New(80, 20)
	return &Model{
		env:      env,
		entry:    entry,
		eventsCh: make(chan *trace.Event, 4096),
		vp:       vp,
	}
}

// Run starts the Bubble Tea program, blocking until the user quits or the
// guest program finishes and the user dismisses the final view.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	if log.L != nil {
		log.L.SetOnTrace(func(pc uint64, category, name, detail string) {
			e := trace.NewEvent(pc, category, name, detail)
			trace.DefaultEnricher(e)
			select {
			case m.eventsCh <- e:
			default:
				// Drop rather than block emulation on a full UI buffer; the
				// debugger is an observer, not part of the emulated machine.
			}
		})
	}
	return tea.Batch(m.waitForEvent(), m.runGuest())
}

func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return traceMsg(<-m.eventsCh)
	}
}

func (m *Model) runGuest() tea.Cmd {
	return func() tea.Msg {
		m.env.Run(m.entry)
		return doneMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - headerHeight
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd

	case traceMsg:
		m.events = append(m.events, msg)
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		m.refresh()
		return m, m.waitForEvent()

	case doneMsg:
		m.finished = true
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

const headerHeight = 4

func (m *Model) refresh() {
	var b strings.Builder
	for _, e := range m.events {
		b.WriteString(formatEvent(e))
		b.WriteByte('\n')
	}
	m.vp.SetContent(b.String())
	m.vp.GotoBottom()
}

func formatEvent(e *trace.Event) string {
	addr := addrStyle.Render(fmt.Sprintf("%08x", e.PC))
	name := nameStyle.Render(e.Name)
	tags := tagStyle.Render(strings.Join(e.Tags.Strings(), " "))
	if e.Detail == "" {
		return fmt.Sprintf("%s  %s  %s", addr, name, tags)
	}
	detail := detailStyle.Render(e.Detail)
	return fmt.Sprintf("%s  %s  %s  %s", addr, name, tags, detail)
}

func (m *Model) View() string {
	status := "running"
	if m.finished {
		status = "finished"
	}

	header := headerStyle.Render(fmt.Sprintf("corehle debugger  pc=%08x sp=%08x  classes=%d  [%s]",
		m.env.CPUv.PC(), m.env.CPUv.SP(), len(m.env.ObjC.ClassNames()), status))
	footer := borderStyle.Render("q: quit")

	return header + "\n" + m.vp.View() + "\n" + footer
}
