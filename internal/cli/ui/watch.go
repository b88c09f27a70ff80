package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Render

// ObservationMsg carries one poll result into the watch view.
type ObservationMsg struct {
	Provisioning string
	Status       string
	Absent       bool
	Err          error
	Done         bool
}

// WatchModel renders a live view of a migration poll loop
type WatchModel struct {
	spinner  spinner.Model
	poll     func() ObservationMsg
	interval time.Duration
	started  time.Time
	last     ObservationMsg
	seen     bool
}

// NewWatchModel creates a watch model that invokes poll on every tick
func NewWatchModel(interval time.Duration, poll func() ObservationMsg) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return WatchModel{
		spinner:  s,
		poll:     poll,
		interval: interval,
		started:  time.Now(),
	}
}

// Init starts the spinner and fires the first poll immediately
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg { return m.poll() })
}

// Update handles key presses, spinner ticks, and poll results
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case ObservationMsg:
		m.last = msg
		m.seen = true
		if msg.Done || msg.Err != nil {
			return m, tea.Quit
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return m.poll() })
	default:
		return m, nil
	}
}

// View renders the current migration state with elapsed time
func (m WatchModel) View() string {
	elapsed := time.Since(m.started).Round(time.Second)

	var status string
	switch {
	case !m.seen:
		status = "waiting for first observation"
	case m.last.Err != nil:
		status = fmt.Sprintf("poll failed: %v", m.last.Err)
	case m.last.Absent:
		status = "migration not visible yet"
	default:
		status = fmt.Sprintf("provisioning=%s status=%s", m.last.Provisioning, m.last.Status)
	}

	return fmt.Sprintf("\n  %s %s\n  %s\n",
		m.spinner.View(), status,
		helpStyle(fmt.Sprintf("elapsed %s · press any key to stop watching", elapsed)))
}

// Last returns the final observation after the program exits
func (m WatchModel) Last() (ObservationMsg, bool) {
	return m.last, m.seen
}

// PollStatus formats a single poll observation for plain line output
func PollStatus(provisioning, status string, elapsed time.Duration) string {
	return fmt.Sprintf("provisioning=%s status=%s (elapsed %s)",
		provisioning, status, elapsed.Round(time.Second))
}
