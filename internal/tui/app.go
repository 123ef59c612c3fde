package tui

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"github.com/router-for-me/CivitaiGallery/internal/config"
)

// Tab identifiers
const (
	tabCheckpoints = iota
	tabLoras
	tabControlNets
	tabConfig
	tabLogs
	tabCount
)

// galleryKinds maps the gallery tabs to their model types.
var galleryKinds = [...]civitai.ModelType{
	tabCheckpoints: civitai.TypeCheckpoint,
	tabLoras:       civitai.TypeLora,
	tabControlNets: civitai.TypeControlNet,
}

// App is the root bubbletea model that contains all tab sub-models.
type App struct {
	activeTab int
	tabs      []string

	galleries [len(galleryKinds)]galleryTabModel
	config    configTabModel
	logs      logsTabModel

	client *Client

	width  int
	height int
	ready  bool

	initialized [tabCount]bool
}

// NewApp creates the root TUI application model for the server described by cfg. With a
// hook the Logs tab follows in-process logs; otherwise it polls the management API.
func NewApp(cfg *config.Config, hook *LogHook) App {
	client := NewClient(cfg.Port)
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = galleryCallTimeout
	}
	content := civitai.NewClient(client.APIBaseURL(), civitai.WithHTTPClient(&http.Client{Timeout: timeout}))
	return newApp(client, content, cfg.UpstreamURL, cfg.Gallery, hook)
}

func newApp(client *Client, content contentSource, site string, gc config.GalleryConfig, hook *LogHook) App {
	app := App{
		activeTab: tabCheckpoints,
		tabs:      TabNames(),
		config:    newConfigTabModel(client),
		logs:      newLogsTabModel(client, hook),
		client:    client,
	}
	for i, kind := range galleryKinds {
		app.galleries[i] = newGalleryTabModel(kind, content, site, gc)
	}
	return app
}

func (a App) Init() tea.Cmd {
	// Init on a copy is lost, so the first gallery loads on the first message instead.
	return tea.Batch(func() tea.Msg { return initTabMsg{} }, a.logs.Init())
}

// initTabMsg asks the app to initialize the active tab.
type initTabMsg struct{}

// localeChangedMsg is broadcast to all tabs when the user toggles locale.
type localeChangedMsg struct{}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.ready = true
		contentH := a.height - 4 // tab bar + status bar
		if contentH < 1 {
			contentH = 1
		}
		for i := range a.galleries {
			a.galleries[i].SetSize(a.width, contentH)
		}
		a.config.SetSize(a.width, contentH)
		a.logs.SetSize(a.width, contentH)
		return a, nil

	case initTabMsg:
		a.initialized[tabLogs] = true
		return a, a.initTabIfNeeded()

	case spinner.TickMsg:
		var cmds []tea.Cmd
		for i := range a.galleries {
			var cmd tea.Cmd
			a.galleries[i], cmd = a.galleries[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)

	case galleryMsg, galleryStatusMsg:
		// Results may arrive after the user switched tabs.
		var cmds []tea.Cmd
		for i := range a.galleries {
			var cmd tea.Cmd
			a.galleries[i], cmd = a.galleries[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)

	case logsPollMsg, logsTickMsg, logLineMsg:
		// Keep log collection alive regardless of the active tab.
		var cmd tea.Cmd
		a.logs, cmd = a.logs.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if a.isEditing() {
			break
		}
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			return a, tea.Quit
		case "L":
			ToggleLocale()
			a.tabs = TabNames()
			return a.broadcastToAllTabs(localeChangedMsg{})
		case "tab":
			a.activeTab = (a.activeTab + 1) % len(a.tabs)
			return a, a.initTabIfNeeded()
		case "shift+tab":
			a.activeTab = (a.activeTab - 1 + len(a.tabs)) % len(a.tabs)
			return a, a.initTabIfNeeded()
		}
	}

	// Route msg to active tab
	var cmd tea.Cmd
	switch {
	case a.activeTab < len(a.galleries):
		a.galleries[a.activeTab], cmd = a.galleries[a.activeTab].Update(msg)
	case a.activeTab == tabConfig:
		a.config, cmd = a.config.Update(msg)
	case a.activeTab == tabLogs:
		a.logs, cmd = a.logs.Update(msg)
	}
	return a, cmd
}

func (a *App) isEditing() bool {
	return a.activeTab < len(a.galleries) && a.galleries[a.activeTab].Editing()
}

func (a *App) initTabIfNeeded() tea.Cmd {
	if a.initialized[a.activeTab] {
		return nil
	}
	a.initialized[a.activeTab] = true
	switch {
	case a.activeTab < len(a.galleries):
		return a.galleries[a.activeTab].Init()
	case a.activeTab == tabConfig:
		return a.config.Init()
	}
	return nil
}

func (a App) View() string {
	if !a.ready {
		return T("initializing_tui")
	}

	var body string
	switch {
	case a.activeTab < len(a.galleries):
		body = a.galleries[a.activeTab].View()
	case a.activeTab == tabConfig:
		body = a.config.View()
	default:
		body = a.logs.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, a.tabBar(), body, a.statusBar())
}

func (a App) tabBar() string {
	rendered := make([]string, len(a.tabs))
	for i, name := range a.tabs {
		style := tabInactiveStyle
		if i == a.activeTab {
			style = tabActiveStyle
		}
		rendered[i] = style.Render(name)
	}
	return tabBarStyle.Width(a.width).Render(lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
}

// statusBar shows the title and server address on the left and key hints on the right.
// The hints are cut first when the terminal is narrow.
func (a App) statusBar() string {
	width := max(a.width, 1)
	inner := max(width-2, 0)

	left := strings.TrimSpace(T("status_left"))
	if a.client != nil {
		left += " · " + a.client.BaseURL()
	}
	left = truncateWidth(left, inner)
	right := truncateWidth(strings.TrimSpace(T("status_right")), inner-lipgloss.Width(left)-1)
	gap := max(inner-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return statusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func truncateWidth(text string, width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().Inline(true).MaxWidth(width).Render(text)
}

func (a App) broadcastToAllTabs(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmds := make([]tea.Cmd, 0, len(a.galleries)+2)
	for i := range a.galleries {
		var cmd tea.Cmd
		a.galleries[i], cmd = a.galleries[i].Update(msg)
		cmds = append(cmds, cmd)
	}
	var configCmd, logsCmd tea.Cmd
	a.config, configCmd = a.config.Update(msg)
	a.logs, logsCmd = a.logs.Update(msg)
	return a, tea.Batch(append(cmds, configCmd, logsCmd)...)
}

// Run shows the gallery on output, os.Stdout when nil, until the user quits.
func Run(cfg *config.Config, hook *LogHook, output io.Writer) error {
	if output == nil {
		output = os.Stdout
	}
	_, err := tea.NewProgram(NewApp(cfg, hook), tea.WithAltScreen(), tea.WithOutput(output)).Run()
	return err
}
