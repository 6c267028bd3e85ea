package progressui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/driftsync/driftsync/internal/sync"
)

var (
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold   = lipgloss.NewStyle().Bold(true)
)

// event is how Reporter calls reach the running Bubble Tea program: every
// Reporter method just wraps its arguments in one of these and sends it, the
// Update loop does the actual state mutation and rendering.
type event struct {
	kind string
	args []any
}

type model struct {
	spin    spinner.Model
	events  []string
	counts  map[sync.ActionKind]int
	done    bool
	summary sync.SessionSummary
	err     error
}

func newModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = cyan
	return model{spin: s, counts: map[sync.ActionKind]int{}}
}

func (m model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}

	case event:
		return m.handleEvent(msg)
	}
	return m, nil
}

func (m model) handleEvent(e event) (tea.Model, tea.Cmd) {
	switch e.kind {
	case "scan_started":
		side := e.args[0].(string)
		m.events = append(m.events, gray.Render(fmt.Sprintf("scanning %s...", side)))
	case "scan_done":
		side, count := e.args[0].(string), e.args[1].(int)
		m.events = append(m.events, fmt.Sprintf("%s %s: %d paths", green.Render("✓"), side, count))
	case "action_decided":
		a := e.args[0].(sync.Action)
		m.counts[a.Kind]++
	case "batch_started":
		kind, count := e.args[0].(sync.ActionKind), e.args[1].(int)
		m.events = append(m.events, gray.Render(fmt.Sprintf("%s: %d items", kind.String(), count)))
	case "batch_done":
		kind, ok, failed := e.args[0].(sync.ActionKind), e.args[1].(int), e.args[2].(int)
		line := fmt.Sprintf("%s %s: %d done", green.Render("✓"), kind.String(), ok)
		if failed > 0 {
			line += red.Render(fmt.Sprintf(", %d failed", failed))
		}
		m.events = append(m.events, line)
	case "conflict":
		path := e.args[0].(string)
		m.events = append(m.events, yellow.Render("conflict: "+path))
	case "warn":
		msgStr := e.args[0].(string)
		m.events = append(m.events, yellow.Render("warn: "+msgStr))
	case "error":
		msgStr, err := e.args[0].(string), e.args[1].(error)
		m.events = append(m.events, red.Render(fmt.Sprintf("error: %s: %v", msgStr, err)))
	case "session_done":
		m.summary = e.args[0].(sync.SessionSummary)
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	if !m.done {
		b.WriteString(m.spin.View())
		b.WriteString(" syncing...\n\n")
	}

	start := len(m.events) - 20
	if start < 0 {
		start = 0
	}
	for _, line := range m.events[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.done {
		b.WriteString("\n")
		b.WriteString(bold.Render("session summary"))
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s %d  %s %d  %s %d  %s %d  %s %d  %s %d  %s %d\n",
			gray.Render("pushed"), m.summary.Pushed,
			gray.Render("pulled"), m.summary.Pulled,
			gray.Render("deleted-local"), m.summary.DeletedLocal,
			gray.Render("deleted-remote"), m.summary.DeletedRemote,
			gray.Render("conflicts"), m.summary.Conflicts,
			gray.Render("skipped"), m.summary.Skipped,
			gray.Render("failed"), m.summary.Failed,
		)
		if m.summary.Aborted {
			b.WriteString(red.Render(fmt.Sprintf("aborted: %v\n", m.summary.Err)))
		}
	}

	return b.String()
}

// Reporter drives a Bubble Tea program as the sync.Reporter implementation
// for interactive terminal runs: every call here just forwards an event to
// the running program, which owns all rendering state.
type Reporter struct {
	program *tea.Program
	done    chan struct{}
	finalM  model
}

// New starts the Bubble Tea program in the background and returns a Reporter
// ready to be handed to the orchestrator. Call Wait after the sync session
// finishes to let the TUI render the final summary and exit.
func New() *Reporter {
	p := tea.NewProgram(newModel())
	r := &Reporter{program: p, done: make(chan struct{})}

	go func() {
		finalModel, err := p.Run()
		if fm, ok := finalModel.(model); ok {
			r.finalM = fm
		}
		_ = err
		close(r.done)
	}()

	return r
}

// Wait blocks until the program has rendered the final summary and exited
// (either via session_done or Ctrl+C).
func (r *Reporter) Wait() {
	<-r.done
}

func (r *Reporter) send(kind string, args ...any) {
	r.program.Send(event{kind: kind, args: args})
}

func (r *Reporter) ScanStarted(side string)         { r.send("scan_started", side) }
func (r *Reporter) ScanDone(side string, count int)  { r.send("scan_done", side, count) }
func (r *Reporter) ActionDecided(a sync.Action)      { r.send("action_decided", a) }
func (r *Reporter) BatchStarted(kind sync.ActionKind, count int) {
	r.send("batch_started", kind, count)
}
func (r *Reporter) BatchDone(kind sync.ActionKind, succeeded, failed int) {
	r.send("batch_done", kind, succeeded, failed)
}
func (r *Reporter) Conflict(path string, info sync.ConflictArtifact) { r.send("conflict", path) }
func (r *Reporter) Warn(msg string, args ...any)                    { r.send("warn", msg) }
func (r *Reporter) Error(msg string, err error)                     { r.send("error", msg, err) }
func (r *Reporter) SessionDone(summary sync.SessionSummary)          { r.send("session_done", summary) }
