package tui

import (
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tidwall/gjson"
)

// configTabModel is a read-only view of the sanitized server config as dotted keys.
type configTabModel struct {
	client   *Client
	viewport viewport.Model
	ready    bool
	width    int

	fields  []configField
	loadErr error
}

type configField struct {
	key   string
	value string
}

type configDataMsg struct {
	raw []byte
	err error
}

func newConfigTabModel(client *Client) configTabModel {
	return configTabModel{client: client}
}

func (m configTabModel) Init() tea.Cmd {
	return m.load
}

func (m configTabModel) load() tea.Msg {
	raw, err := m.client.GetConfig()
	return configDataMsg{raw: raw, err: err}
}

func (m configTabModel) Update(msg tea.Msg) (configTabModel, tea.Cmd) {
	switch msg := msg.(type) {
	case localeChangedMsg:
		m.viewport.SetContent(m.render())
		return m, nil
	case configDataMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.fields = flattenConfig("", gjson.ParseBytes(msg.raw), nil)
		}
		m.viewport.SetContent(m.render())
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "r" {
			return m, m.load
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// flattenConfig appends one field per leaf of obj, keys sorted at every level. Nested objects
// become "parent.child", arrays render as a quoted list and empty strings or nulls as "-".
func flattenConfig(prefix string, obj gjson.Result, out []configField) []configField {
	var keys []string
	children := map[string]gjson.Result{}
	obj.ForEach(func(k, v gjson.Result) bool {
		keys = append(keys, k.String())
		children[k.String()] = v
		return true
	})
	slices.Sort(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		v := children[k]
		switch {
		case v.IsObject():
			out = flattenConfig(name, v, out)
			continue
		case v.IsArray():
			items := v.Array()
			quoted := make([]string, len(items))
			for i, item := range items {
				quoted[i] = strconv.Quote(item.String())
			}
			out = append(out, configField{key: name, value: "[" + strings.Join(quoted, ", ") + "]"})
			continue
		}
		value := v.String()
		if v.Type == gjson.Null || value == "" {
			value = "-"
		}
		out = append(out, configField{key: name, value: value})
	}
	return out
}

func (m *configTabModel) SetSize(w, h int) {
	m.width = w
	if m.ready {
		m.viewport.Width = w
		m.viewport.Height = h
		return
	}
	m.viewport = viewport.New(w, h)
	m.viewport.SetContent(m.render())
	m.ready = true
}

func (m configTabModel) View() string {
	if !m.ready {
		return T("loading")
	}
	return m.viewport.View()
}

func (m configTabModel) render() string {
	lines := []string{
		titleStyle.Render(" " + T("config_title")),
		helpStyle.Render(T("config_help")),
		strings.Repeat("─", m.width),
	}
	switch {
	case m.loadErr != nil:
		lines = append(lines, errorStyle.Render("⚠ "+T("error")+": "+m.loadErr.Error()))
	case len(m.fields) == 0:
		lines = append(lines, subtitleStyle.Render(T("loading")))
	default:
		keyWidth := 0
		for _, f := range m.fields {
			keyWidth = max(keyWidth, len(f.key))
		}
		label := labelStyle.Width(keyWidth + 2)
		for _, f := range m.fields {
			lines = append(lines, label.Render(f.key)+" "+valueStyle.Render(f.value))
		}
	}
	return strings.Join(lines, "\n")
}
