package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"asset-harvester/internal/archive"
	"asset-harvester/internal/config"
	"asset-harvester/internal/model"
)

const dashboardRefresh = 200 * time.Millisecond

var (
	dashTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dashMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dashErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	dashOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dashPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

type dashboardTickMsg time.Time

type dashboardDoneMsg struct{}

type dashboardModel struct {
	tracker *archive.Tracker
	cancel  context.CancelFunc

	spinner spinner.Model
	overall progress.Model
	worker  progress.Model
	snap    archive.Snapshot
	width   int

	stopping bool
	done     bool
}

func newDashboardModel(tracker *archive.Tracker, cancel context.CancelFunc) dashboardModel {
	return dashboardModel{
		tracker: tracker,
		cancel:  cancel,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		overall: progress.New(progress.WithDefaultGradient()),
		worker:  progress.New(progress.WithSolidFill("62"), progress.WithoutPercentage(), progress.WithWidth(20)),
		snap:    tracker.Snapshot(),
		width:   80,
	}
}

func dashboardTick() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(t time.Time) tea.Msg { return dashboardTickMsg(t) })
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, dashboardTick())
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.overall.Width = max(msg.Width-8, 10)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.stopping {
				// second request: leave the dashboard, the run still winds down
				return m, tea.Quit
			}
			m.stopping = true
			m.cancel()
		}
		return m, nil
	case dashboardTickMsg:
		m.snap = m.tracker.Snapshot()
		return m, dashboardTick()
	case dashboardDoneMsg:
		m.done = true
		m.snap = m.tracker.Snapshot()
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m dashboardModel) View() string {
	s := m.snap
	phase := string(s.Phase)
	if phase == "" {
		phase = "starting"
	}
	title := dashTitleStyle.Render("asset-harvester") + " " + m.spinner.View() + " " + phase
	if m.done {
		title = dashTitleStyle.Render("asset-harvester") + " " + dashOKStyle.Render("finished")
	}

	lines := []string{title, dashMutedStyle.Render(s.Header())}
	if s.Target > 0 {
		lines = append(lines, m.overall.ViewAs(float64(s.Completed)/float64(s.Target)))
	}

	var workers []string
	for _, w := range s.Workers {
		bar := strings.Repeat(" ", m.worker.Width)
		if w.Fraction >= 0 {
			bar = m.worker.ViewAs(w.Fraction)
		}
		workers = append(workers, fmt.Sprintf("w%02d %s %s", w.Worker, bar, w.Line))
	}
	if len(workers) == 0 {
		workers = append(workers, dashMutedStyle.Render("no active transfers"))
	}
	panelWidth := max(m.width-2, 40)
	lines = append(lines, dashPanelStyle.Width(panelWidth).Render(strings.Join(workers, "\n")))

	if len(s.Events) > 0 {
		var events []string
		for _, e := range s.Events {
			if strings.HasPrefix(e, "fail") {
				events = append(events, dashErrorStyle.Render(e))
			} else {
				events = append(events, e)
			}
		}
		lines = append(lines, dashPanelStyle.Width(panelWidth).Render(strings.Join(events, "\n")))
	}

	hint := "ctrl+c/q: stop (partial files are kept and resumed next run)"
	if m.stopping {
		hint = "stopping: waiting for workers to checkpoint... (press again to leave)"
	}
	lines = append(lines, dashMutedStyle.Render(hint))
	return strings.Join(lines, "\n") + "\n"
}

// runWithDashboard runs the harvest while a full screen dashboard follows its
// progress. Stopping from the dashboard cancels the run, which then finishes
// as cancelled with its state checkpointed.
func runWithDashboard(ctx context.Context, cfg config.Config, deps archive.Deps) (archive.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := archive.NewTracker()
	onPlan := deps.OnPlan
	deps.OnPhase = tracker.SetPhase
	deps.OnEvent = tracker.Handle
	deps.OnPlan = func(items []model.Item) {
		tracker.SetQueue(items)
		if onPlan != nil {
			onPlan(items)
		}
	}

	p := tea.NewProgram(newDashboardModel(tracker, cancel), tea.WithAltScreen())

	var (
		res    archive.Result
		runErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		res, runErr = archive.Run(runCtx, cfg, deps)
		p.Send(dashboardDoneMsg{})
	}()

	_, uiErr := p.Run()
	if uiErr != nil {
		cancel()
	}
	<-finished
	if runErr != nil {
		return res, runErr
	}
	if uiErr != nil {
		deps.Logger.Warn().Err(uiErr).Msg("dashboard stopped")
	}
	return res, nil
}
