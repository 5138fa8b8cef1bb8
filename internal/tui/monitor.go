// internal/tui/monitor.go
//
// The watch monitor renders live pipeline progress while a generation run is
// in flight: one line per requirement chunk, colored by its current state.
// It consumes the runner's event channel and quits on its own once the
// channel closes, so a run without --watch pays nothing for this package.

package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/casewright/casewright/internal/pipeline"
)

var (
	stateStyleFinal    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	stateStyleFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	stateStyleRevising = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	stateStyleWorking  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	stateStyleCanceled = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	stateStyleDefault  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	headerStyle        = lipgloss.NewStyle().Bold(true)
	helpStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

type unitRow struct {
	documentID string
	chunkIndex int
	state      pipeline.State
}

type eventMsg pipeline.Event

type eventsClosedMsg struct{}

// Monitor is the bubbletea model for a watched run.
type Monitor struct {
	events  <-chan pipeline.Event
	cancel  func()
	units   map[string]*unitRow
	order   []string
	spin    spinner.Model
	closed  bool
	aborted bool
}

// NewMonitor builds a monitor over the runner's event stream. cancel is
// invoked when the user quits mid-run; the monitor itself exits once events
// closes.
func NewMonitor(events <-chan pipeline.Event, cancel func()) *Monitor {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = stateStyleWorking
	return &Monitor{
		events: events,
		cancel: cancel,
		units:  map[string]*unitRow{},
		spin:   spin,
	}
}

// Init starts the spinner and the first channel read.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForEvent())
}

// Update advances the monitor on events, key presses, and spinner ticks.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.apply(pipeline.Event(msg))
		return m, m.waitForEvent()
	case eventsClosedMsg:
		m.closed = true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.aborted = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

// View renders the unit board.
func (m *Monitor) View() string {
	lines := []string{headerStyle.Render("casewright · generating test cases"), ""}
	if len(m.order) == 0 {
		lines = append(lines, m.spin.View()+" waiting for units…")
	}
	for _, key := range m.order {
		row := m.units[key]
		lines = append(lines, m.renderUnitLine(row))
	}
	lines = append(lines, "")
	if m.aborted {
		lines = append(lines, helpStyle.Render("canceling, letting in-flight units settle…"))
	} else {
		lines = append(lines, helpStyle.Render("q=cancel run"))
	}
	return strings.Join(lines, "\n")
}

func (m *Monitor) renderUnitLine(row *unitRow) string {
	label := stateLabel(row.state)
	prefix := "  "
	if !row.state.Terminal() {
		prefix = m.spin.View() + " "
	}
	return fmt.Sprintf("%s%s#chunk%d · %s", prefix, row.documentID, row.chunkIndex, label)
}

func stateLabel(state pipeline.State) string {
	switch state {
	case pipeline.StateFinal:
		return stateStyleFinal.Render("final")
	case pipeline.StateFailed:
		return stateStyleFailed.Render("failed")
	case pipeline.StateRevising:
		return stateStyleRevising.Render("revising")
	case pipeline.StateCanceled:
		return stateStyleCanceled.Render("canceled")
	case pipeline.StateApproved:
		return stateStyleFinal.Render("approved")
	case "":
		return stateStyleDefault.Render("pending")
	default:
		return stateStyleWorking.Render(string(state))
	}
}

func (m *Monitor) apply(ev pipeline.Event) {
	key := fmt.Sprintf("%s#%06d", ev.DocumentID, ev.ChunkIndex)
	row, ok := m.units[key]
	if !ok {
		row = &unitRow{documentID: ev.DocumentID, chunkIndex: ev.ChunkIndex}
		m.units[key] = row
		m.order = append(m.order, key)
		sort.Strings(m.order)
	}
	row.state = ev.State
}

func (m *Monitor) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Watch runs the monitor until the event channel closes. It blocks the
// calling goroutine, so the pipeline run happens elsewhere.
func Watch(events <-chan pipeline.Event, cancel func()) error {
	program := tea.NewProgram(NewMonitor(events, cancel))
	_, err := program.Run()
	return err
}
