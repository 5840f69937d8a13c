package ui

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"nasenv/internal/client"
)

// View states
const (
	SessionsView = iota
	DetailView
)

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 2).
			Bold(true).
			Width(80)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B5563")).
			Padding(0, 2).
			Width(80)

	detailViewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF"))

	logViewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF"))

	listStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2563EB"))

	copyNoticeStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#10B981")).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 2).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF")).
			Italic(true)

	accuracyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#34D399")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60A5FA"))

	logoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFF00")).
			Bold(true).
			MarginTop(1)
)

// ASCII art logo for NASENV
const nasenvLogo = `
███╗   ██╗ █████╗ ███████╗███████╗███╗   ██╗██╗   ██╗
████╗  ██║██╔══██╗██╔════╝██╔════╝████╗  ██║██║   ██║
██╔██╗ ██║███████║███████╗█████╗  ██╔██╗ ██║██║   ██║
██║╚██╗██║██╔══██║╚════██║██╔══╝  ██║╚██╗██║╚██╗ ██╔╝
██║ ╚████║██║  ██║███████║███████╗██║ ╚████║ ╚████╔╝
╚═╝  ╚═══╝╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═══╝  ╚═══╝`

// Session list entries
type sessionItem struct {
	id    string
	task  string
	steps int
	best  float64
}

func (i sessionItem) Title() string { return fmt.Sprintf("%s  %s", shortID(i.id), i.task) }
func (i sessionItem) Description() string {
	return fmt.Sprintf("step %d | best accuracy %.4f", i.steps, i.best)
}
func (i sessionItem) FilterValue() string { return i.task }

// shortID trims a session UUID down to its first block for display
func shortID(id string) string {
	if idx := strings.Index(id, "-"); idx > 0 {
		return id[:idx]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Model represents the monitor state
type Model struct {
	CurrentView  int
	Sessions     list.Model
	Detail       viewport.Model // Selected session view (using viewport for scrolling)
	EventLog     []string
	HostReady    bool
	HostURL      string
	ResourceData string
	Width        int
	Height       int
	Metrics      client.MetricsResponse
	State        *client.StateResponse // Last state poll of the selected session
	SelectedID   string
	LastError    string
	PollInterval time.Duration
	APIClient    *client.APIClient

	ShowCopyNotice bool

	// Step counts from the previous metrics poll, for change detection
	LastSteps map[string]int
}

// NewModel creates a new monitor model
func NewModel(api *client.APIClient, interval time.Duration) Model {
	// Default dimensions
	defaultWidth := 80
	defaultHeight := 24
	listHeight := defaultHeight - 13
	if listHeight < 6 {
		listHeight = 6
	}

	// Initialize session list with proper initial size
	sessions := list.New([]list.Item{}, list.NewDefaultDelegate(), defaultWidth-4, listHeight)
	sessions.Title = "NASEnv Monitor - Sessions"
	sessions.SetShowStatusBar(false)
	sessions.SetFilteringEnabled(false)

	// Initialize detail view as viewport for scrolling
	detail := viewport.New(defaultWidth-4, 10)

	if interval <= 0 {
		interval = 2 * time.Second
	}

	model := Model{
		CurrentView:  SessionsView,
		Sessions:     sessions,
		Detail:       detail,
		EventLog:     []string{"Waiting for envd host..."},
		HostReady:    false,
		HostURL:      api.BaseURL,
		Width:        defaultWidth,
		Height:       defaultHeight,
		PollInterval: interval,
		APIClient:    api,
		LastSteps:    make(map[string]int),
	}

	return model
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.ClearScreen,
		m.updateResourceData(),
		m.pollMetrics(),
	)
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		}

	case tea.MouseMsg:
		cmds = append(cmds, m.handleMouse(msg))

	case tea.WindowSizeMsg:
		m, cmd = m.handleResize(msg)
		cmds = append(cmds, cmd)

	case updateResourceDataMsg:
		m.ResourceData = msg.data
		cmds = append(cmds, m.updateResourceData())

	case AppendLogMsg:
		m.appendEvent(msg.Log)

	case HostEndpointMsg:
		// A launched envd reports the port it actually bound, which can
		// differ from the endpoint guessed at startup.
		m.APIClient = client.NewAPIClient(msg.URL)
		m.HostURL = m.APIClient.BaseURL

	case metricsMsg:
		m.applyMetrics(msg)
		cmds = append(cmds, m.pollMetrics())

	case stateMsg:
		// Ignore stale polls from sessions the user already left
		if m.CurrentView == DetailView && msg.id == m.SelectedID {
			if msg.err != nil {
				m.LastError = msg.err.Error()
			} else {
				m.LastError = ""
				m.State = msg.state
			}
			m.updateDetailView()
			cmds = append(cmds, m.pollState())
		}

	case hideCopyNoticeMsg:
		m.ShowCopyNotice = false
	}

	switch m.CurrentView {
	case SessionsView:
		m.Sessions, cmd = m.Sessions.Update(msg)
		cmds = append(cmds, cmd)

		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.Type {
			case tea.KeyEnter:
				if i, ok := m.Sessions.SelectedItem().(sessionItem); ok {
					m.CurrentView = DetailView
					m.SelectedID = i.id
					m.State = nil
					m.LastError = ""
					m.updateDetailView()
					cmds = append(cmds, m.fetchState())
				}
			}
		}

	case DetailView:
		m.Detail, cmd = m.Detail.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}

		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.Type {
			case tea.KeyEsc:
				m.CurrentView = SessionsView
				m.SelectedID = ""
				m.State = nil
				m.LastError = ""
			case tea.KeyUp:
				m.Detail.LineUp(1)
			case tea.KeyDown:
				m.Detail.LineDown(1)
			case tea.KeyPgUp:
				m.Detail.LineUp(5)
			case tea.KeyPgDown:
				m.Detail.LineDown(5)
			}

			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "c":
				cmds = append(cmds, m.copyGenotype())
			}
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the UI
func (m Model) View() string {
	switch m.CurrentView {
	case SessionsView:
		return m.renderSessionsView()
	case DetailView:
		return m.renderDetailView()
	}

	return m.renderSessionsView()
}

// renderSessionsView renders the session overview
func (m Model) renderSessionsView() string {
	hostStatus := "Host: Unreachable"
	if m.HostReady {
		hostStatus = "Host: Ready"
	}

	// Build header with host counters on right side
	leftContent := fmt.Sprintf(" NASEnv Monitor | %s", hostStatus)
	rightContent := ""
	if m.HostReady {
		rightContent = fmt.Sprintf("sessions: %d | steps served: %d ", m.Metrics.ActiveSessions, m.Metrics.StepsServed)
	}

	// Calculate padding for right-aligned counters
	padding := m.Width - len(leftContent) - len(rightContent) - 4 // 4 for style padding
	if padding < 1 {
		padding = 1
	}
	headerContent := leftContent + strings.Repeat(" ", padding) + rightContent
	header := headerStyle.Width(m.Width).Render(headerContent)

	footerText := m.ResourceData
	if m.HostReady {
		footerText += fmt.Sprintf(" | envd up %s", formatUptime(m.Metrics.UptimeSeconds))
	}
	footer := footerStyle.Width(m.Width).Render(footerText)

	logo := logoStyle.Render(nasenvLogo)

	// List height must leave room for header(1) + logo(8) + list_border(2) + footer(1)
	listHeight := m.Height - 13
	if listHeight < 6 {
		listHeight = 6
	}

	var mainContent string
	if len(m.Sessions.Items()) == 0 {
		empty := infoStyle.Render("No active search sessions.") + "\n\n" +
			helpStyle.Render("Start an agent against this host to see sessions here.\nPress q to quit.")
		mainContent = listStyle.Copy().Width(m.Width - 4).Height(listHeight).Padding(1, 2).Render(empty)
	} else {
		mainContent = listStyle.Copy().Width(m.Width - 4).Height(listHeight).Render(m.Sessions.View())
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		logo,
		mainContent,
		footer,
	)
}

// renderDetailView renders a single session above the event log
func (m Model) renderDetailView() string {
	hostStatus := "Host: Unreachable"
	if m.HostReady {
		hostStatus = "Host: Ready"
	}

	// Build header with key hints on right side
	leftContent := fmt.Sprintf(" Session %s | %s | ESC=back", shortID(m.SelectedID), hostStatus)
	rightContent := "c: copy genotype "

	// Calculate padding for right-aligned content
	padding := m.Width - len(leftContent) - len(rightContent) - 4 // 4 for style padding
	if padding < 1 {
		padding = 1
	}
	headerContent := leftContent + strings.Repeat(" ", padding) + rightContent
	header := headerStyle.Width(m.Width).Render(headerContent)

	// Build footer with copy notice
	footerText := m.ResourceData
	if m.ShowCopyNotice {
		copyNotice := copyNoticeStyle.Render("✓ Copied to clipboard")
		footerText += " " + copyNotice
	} else {
		footerText += " | ↑↓ scroll | c copy genotype | q quit"
	}
	footer := footerStyle.Width(m.Width).Render(footerText)

	// Calculate dimensions accounting for borders
	// header(1) + footer(1) + detail_border(2) + log_border(2) = 6
	contentHeight := m.Height - 6
	if contentHeight < 6 {
		contentHeight = 6
	}

	detailHeight := contentHeight / 2
	logHeight := contentHeight - detailHeight

	// Update viewport dimensions
	m.Detail.Width = m.Width - 4
	m.Detail.Height = detailHeight

	detailContent := detailViewStyle.Copy().
		Width(m.Width - 2).
		Height(detailHeight).
		Render(m.Detail.View())

	logContent := logViewStyle.Copy().
		Width(m.Width - 2).
		Height(logHeight).
		Render(m.renderEventLog(logHeight, m.Width-4))

	// Stack views vertically
	columns := lipgloss.JoinVertical(
		lipgloss.Left,
		detailContent,
		logContent,
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		columns,
		footer,
	)
}

// renderEventLog renders the most recent event lines that fit the log pane
func (m Model) renderEventLog(height, width int) string {
	if width < 10 {
		width = 60
	}

	var lines []string
	for _, event := range m.EventLog {
		// Word wrap each event line
		wrapped := ansi.Wordwrap(event, width, " \t")
		lines = append(lines, strings.Split(wrapped, "\n")...)
	}

	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}

	return strings.Join(lines, "\n")
}

// handleResize adjusts layout for window resizing
func (m Model) handleResize(msg tea.WindowSizeMsg) (Model, tea.Cmd) {
	m.Width = msg.Width
	m.Height = msg.Height

	// List height must match renderSessionsView calculation
	listHeight := msg.Height - 13
	if listHeight < 6 {
		listHeight = 6
	}
	m.Sessions.SetSize(msg.Width-4, listHeight)

	// Detail height must match renderDetailView calculation
	contentHeight := msg.Height - 6
	if contentHeight < 6 {
		contentHeight = 6
	}
	m.Detail.Width = msg.Width - 4
	m.Detail.Height = contentHeight / 2

	headerStyle = headerStyle.Width(msg.Width)
	footerStyle = footerStyle.Width(msg.Width)

	m.updateDetailView()

	return m, nil
}

// updateDetailView rebuilds the detail viewport from the latest session state
func (m *Model) updateDetailView() {
	width := m.Detail.Width
	if width < 20 {
		width = m.Width - 4
	}
	if width < 20 {
		width = 76
	}

	var content strings.Builder
	if m.State == nil {
		content.WriteString(infoStyle.Render("Fetching session state..."))
	} else {
		s := m.State
		content.WriteString(fmt.Sprintf("Session:        %s\n", s.SessionID))
		content.WriteString(fmt.Sprintf("Task:           %s\n", s.Task))
		content.WriteString(fmt.Sprintf("Cell:           %s\n", s.Cell))
		content.WriteString(fmt.Sprintf("Step:           %d\n", s.StepCount))
		content.WriteString(fmt.Sprintf("Baseline:       %.4f\n", s.Baseline))
		content.WriteString("Best accuracy:  " + accuracyStyle.Render(fmt.Sprintf("%.4f", s.MaxAccuracy)) + "\n")
		if s.CreatedAt != "" {
			content.WriteString(fmt.Sprintf("Created:        %s\n", s.CreatedAt))
		}
		if s.LastStepAt != "" {
			content.WriteString(fmt.Sprintf("Last step:      %s\n", s.LastStepAt))
		}
		content.WriteString("\nBest genotype:\n")
		if s.Genotype == "" {
			content.WriteString(helpStyle.Render("No architecture sampled yet."))
		} else {
			// Genotype strings have no spaces, so break at the op separators
			content.WriteString(ansi.Wordwrap(s.Genotype, width, "|+"))
		}
	}

	if m.LastError != "" {
		content.WriteString("\n\n" + errorStyle.Render("Last poll error: "+m.LastError))
	}

	m.Detail.SetContent(content.String())
}

// appendEvent adds a line to the event log, keeping the most recent entries
func (m *Model) appendEvent(line string) {
	m.EventLog = append(m.EventLog, line)
	if len(m.EventLog) > 50 {
		m.EventLog = m.EventLog[len(m.EventLog)-50:]
	}
}

// applyMetrics folds a metrics poll result into the model
func (m *Model) applyMetrics(msg metricsMsg) {
	now := time.Now().Format("15:04:05")

	if msg.err != nil {
		if m.HostReady {
			m.appendEvent(fmt.Sprintf("[%s] lost contact with envd: %v", now, msg.err))
		}
		m.HostReady = false
		return
	}
	if msg.metrics == nil {
		return
	}

	if !m.HostReady {
		m.appendEvent(fmt.Sprintf("[%s] connected to envd at %s", now, m.HostURL))
	}
	m.HostReady = true
	m.Metrics = *msg.metrics

	// Log step progress per session
	for _, s := range msg.metrics.Sessions {
		prev, seen := m.LastSteps[s.SessionID]
		if !seen {
			m.appendEvent(fmt.Sprintf("[%s] session %s searching %s", now, shortID(s.SessionID), s.Task))
		} else if s.StepCount != prev {
			m.appendEvent(fmt.Sprintf("[%s] %s step %d, best accuracy %.4f", now, shortID(s.SessionID), s.StepCount, s.MaxAccuracy))
		}
		m.LastSteps[s.SessionID] = s.StepCount
	}

	m.refreshSessionItems()
}

// refreshSessionItems rebuilds the session list from the latest metrics
func (m *Model) refreshSessionItems() {
	summaries := make([]client.SessionSummary, len(m.Metrics.Sessions))
	copy(summaries, m.Metrics.Sessions)
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Task != summaries[j].Task {
			return summaries[i].Task < summaries[j].Task
		}
		return summaries[i].SessionID < summaries[j].SessionID
	})

	items := make([]list.Item, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, sessionItem{
			id:    s.SessionID,
			task:  s.Task,
			steps: s.StepCount,
			best:  s.MaxAccuracy,
		})
	}
	m.Sessions.SetItems(items)
}

// copyGenotype places the selected session's best genotype on the clipboard
func (m *Model) copyGenotype() tea.Cmd {
	if m.State == nil || m.State.Genotype == "" {
		return nil
	}
	if err := clipboard.WriteAll(m.State.Genotype); err != nil {
		return nil
	}
	m.ShowCopyNotice = true
	return m.startCopyNoticeTimer()
}

// handleMouse handles mouse events for copying
func (m *Model) handleMouse(msg tea.MouseMsg) tea.Cmd {
	switch msg.Type {
	case tea.MouseRight:
		if m.CurrentView == DetailView {
			return m.copyGenotype()
		}
	}
	return nil
}

func (m Model) startCopyNoticeTimer() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return hideCopyNoticeMsg{}
	})
}

// pollMetrics periodically pulls session metrics from the envd host
func (m Model) pollMetrics() tea.Cmd {
	api := m.APIClient
	return tea.Tick(m.PollInterval, func(t time.Time) tea.Msg {
		metrics, err := api.GetMetrics()
		return metricsMsg{metrics: metrics, err: err}
	})
}

// fetchState pulls the selected session state immediately
func (m Model) fetchState() tea.Cmd {
	api := m.APIClient
	id := m.SelectedID
	return func() tea.Msg {
		state, err := api.GetState(id)
		return stateMsg{id: id, state: state, err: err}
	}
}

// pollState schedules the next state poll for the selected session
func (m Model) pollState() tea.Cmd {
	api := m.APIClient
	id := m.SelectedID
	return tea.Tick(m.PollInterval, func(t time.Time) tea.Msg {
		state, err := api.GetState(id)
		return stateMsg{id: id, state: state, err: err}
	})
}

// updateResourceData updates resource usage information
func (m Model) updateResourceData() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		cpuPercent, _ := psutil.Percent(0, false)
		memInfo, _ := psmem.VirtualMemory()

		if len(cpuPercent) == 0 || memInfo == nil {
			return updateResourceDataMsg{m.ResourceData}
		}

		data := fmt.Sprintf("CPU: %.1f%% | RAM: %.1f%% | Go: %s",
			cpuPercent[0], memInfo.UsedPercent, runtime.Version())
		return updateResourceDataMsg{data}
	})
}

// formatUptime renders host uptime seconds compactly
func formatUptime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

// Messages
type updateResourceDataMsg struct {
	data string
}

// AppendLogMsg adds a line to the monitor event log
type AppendLogMsg struct {
	Log string
}

// HostEndpointMsg retargets metric polling at a new envd base URL
type HostEndpointMsg struct {
	URL string
}

type hideCopyNoticeMsg struct{}

type metricsMsg struct {
	metrics *client.MetricsResponse
	err     error
}

type stateMsg struct {
	id    string
	state *client.StateResponse
	err   error
}
