package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
)

const (
	logsPollLimit    = 200
	logsPollInterval = 2 * time.Second
	logsKeepLines    = 5000
)

// levelFilters maps the number keys to the least severe level shown.
var levelFilters = map[string]log.Level{
	"1": log.TraceLevel,
	"2": log.InfoLevel,
	"3": log.WarnLevel,
	"4": log.ErrorLevel,
}

// logEntry is one formatted line with the level read from its level column.
type logEntry struct {
	text  string
	level log.Level
}

// logsTabModel tails the server log. With a LogHook it follows the in-process buffer,
// otherwise it polls /v0/management/logs.
type logsTabModel struct {
	client   *Client
	hook     *LogHook
	viewport viewport.Model
	ready    bool
	width    int

	entries []logEntry
	minimum log.Level
	follow  bool
	after   uint64
	pollErr error
}

type (
	logsPollMsg struct {
		lines  []string
		latest uint64
		err    error
	}
	logsTickMsg struct{}
	logLineMsg  string
)

func newLogsTabModel(client *Client, hook *LogHook) logsTabModel {
	m := logsTabModel{client: client, hook: hook, minimum: log.TraceLevel, follow: true}
	if hook != nil {
		m.push(hook.Backlog()...)
	}
	return m
}

func (m logsTabModel) Init() tea.Cmd {
	if m.hook != nil {
		return m.nextHookLine
	}
	return m.poll
}

func (m logsTabModel) poll() tea.Msg {
	lines, latest, err := m.client.GetLogs(m.after, logsPollLimit)
	return logsPollMsg{lines: lines, latest: latest, err: err}
}

func (m logsTabModel) nextHookLine() tea.Msg {
	if m.hook == nil {
		return nil
	}
	line, ok := m.hook.Next()
	if !ok {
		return nil
	}
	return logLineMsg(line)
}

func (m *logsTabModel) push(lines ...string) {
	for _, line := range lines {
		m.entries = append(m.entries, logEntry{text: line, level: lineLevel(line)})
	}
	if extra := len(m.entries) - logsKeepLines; extra > 0 {
		m.entries = append(m.entries[:0], m.entries[extra:]...)
	}
}

func (m *logsTabModel) redraw() {
	m.viewport.SetContent(m.render())
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m logsTabModel) Update(msg tea.Msg) (logsTabModel, tea.Cmd) {
	switch msg := msg.(type) {
	case localeChangedMsg:
		m.redraw()
		return m, nil
	case logsTickMsg:
		if m.hook != nil {
			return m, nil
		}
		return m, m.poll
	case logsPollMsg:
		if m.hook != nil {
			return m, nil
		}
		m.pollErr = msg.err
		if msg.err == nil {
			m.after = msg.latest
			m.push(msg.lines...)
		}
		m.redraw()
		return m, tea.Tick(logsPollInterval, func(time.Time) tea.Msg { return logsTickMsg{} })
	case logLineMsg:
		m.push(string(msg))
		m.redraw()
		return m, m.nextHookLine
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m logsTabModel) handleKey(msg tea.KeyMsg) (logsTabModel, tea.Cmd) {
	key := msg.String()
	if level, ok := levelFilters[key]; ok {
		m.minimum = level
		m.redraw()
		return m, nil
	}
	switch key {
	case "a":
		m.follow = !m.follow
		m.redraw()
		return m, nil
	case "c":
		m.entries = nil
		m.pollErr = nil
		m.redraw()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	// Scrolling up pauses following, reaching the bottom resumes it.
	m.follow = m.viewport.AtBottom()
	return m, cmd
}

func (m *logsTabModel) SetSize(w, h int) {
	m.width = w
	if m.ready {
		m.viewport.Width = w
		m.viewport.Height = h
		return
	}
	m.viewport = viewport.New(w, h)
	m.ready = true
	m.redraw()
}

func (m logsTabModel) View() string {
	if !m.ready {
		return T("loading")
	}
	return m.viewport.View()
}

func (m logsTabModel) render() string {
	var sb strings.Builder

	status := successStyle.Render(T("logs_auto_scroll"))
	if !m.follow {
		status = warningStyle.Render(T("logs_paused"))
	}
	filter := "ALL"
	if m.minimum != log.TraceLevel {
		filter = strings.ToUpper(levelName(m.minimum)) + "+"
	}
	fmt.Fprintf(&sb, "%s\n%s\n%s\n",
		titleStyle.Render(fmt.Sprintf(" %s  %s  %s: %s  %s: %d", T("logs_title"), status, T("logs_filter"), filter, T("logs_lines"), len(m.entries))),
		helpStyle.Render(T("logs_help")),
		strings.Repeat("─", m.width))

	if m.pollErr != nil {
		sb.WriteString(errorStyle.Render("⚠ " + T("error") + ": " + m.pollErr.Error()))
		sb.WriteString("\n")
	}
	if len(m.entries) == 0 {
		sb.WriteString(subtitleStyle.Render(T("logs_waiting")))
		return sb.String()
	}
	for _, e := range m.entries {
		if e.level > m.minimum {
			continue
		}
		sb.WriteString(levelStyle(e.level).Render(e.text))
		sb.WriteString("\n")
	}
	return sb.String()
}

// lineLevel reads the third bracketed column written by logging.LogFormatter, e.g. "[warn ]".
// Lines without one count as info.
func lineLevel(line string) log.Level {
	rest := line
	for i := 0; i < 3; i++ {
		start := strings.IndexByte(rest, '[')
		end := strings.IndexByte(rest, ']')
		if start < 0 || end < start {
			return log.InfoLevel
		}
		if i == 2 {
			if level, err := log.ParseLevel(strings.TrimSpace(rest[start+1 : end])); err == nil {
				return level
			}
			return log.InfoLevel
		}
		rest = rest[end+1:]
	}
	return log.InfoLevel
}

func levelName(level log.Level) string {
	if level == log.WarnLevel {
		return "warn"
	}
	return level.String()
}
