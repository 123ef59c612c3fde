package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/router-for-me/CivitaiGallery/internal/browser"
	"github.com/router-for-me/CivitaiGallery/internal/carousel"
	"github.com/router-for-me/CivitaiGallery/internal/civitai"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/gallery"
)

const galleryCallTimeout = 60 * time.Second

// contentSource is the content API as seen by a gallery tab.
type contentSource interface {
	gallery.Source
	GetModel(ctx context.Context, id int64) (*civitai.Model, error)
}

// Replaced in tests.
var (
	copyToClipboard = clipboard.WriteAll
	openModelPage   = browser.OpenModelPage
)

// galleryTabModel browses one model type through a gallery.Gallery.
type galleryTabModel struct {
	kind     civitai.ModelType
	gallery  *gallery.Gallery
	source   contentSource
	site     string
	viewport viewport.Model
	spinner  spinner.Model
	input    textinput.Model
	editing  bool
	loading  bool
	current  *civitai.ModelVersion
	model    string
	status   string
	lastErr  error
	width    int
	height   int
	ready    bool
}

// galleryMsg carries the outcome of a gallery call back to the tab of kind.
type galleryMsg struct {
	kind      civitai.ModelType
	version   *civitai.ModelVersion
	modelName string
	err       error
}

type galleryStatusMsg struct {
	kind   civitai.ModelType
	status string
	err    error
}

func newGalleryTabModel(kind civitai.ModelType, source contentSource, site string, gc config.GalleryConfig) galleryTabModel {
	ti := textinput.New()
	ti.CharLimit = 20
	ti.Validate = func(s string) error {
		if s == "" {
			return nil
		}
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return errors.New("digits only")
		}
		return nil
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return galleryTabModel{
		kind:    kind,
		gallery: gallery.New(kind, source, gallery.WithFilterOptions(gc.BaseModels, gc.Periods), gallery.WithPageSize(gc.PageSize)),
		source:  source,
		site:    site,
		spinner: sp,
		input:   ti,
	}
}

// Init starts the first refresh. It mutates m, so callers keep the model they call it on.
func (m *galleryTabModel) Init() tea.Cmd {
	return m.startLoading(m.refresh(false))
}

// Editing reports whether the exact-version input has focus.
func (m galleryTabModel) Editing() bool { return m.editing }

func (m *galleryTabModel) startLoading(cmd tea.Cmd) tea.Cmd {
	m.loading = true
	m.lastErr = nil
	m.status = ""
	return tea.Batch(cmd, m.spinner.Tick)
}

func (m galleryTabModel) refresh(force bool) tea.Cmd {
	g, kind, resolve := m.gallery, m.kind, m.resolveModelName
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), galleryCallTimeout)
		defer cancel()
		errRefresh := g.Refresh(ctx, force)
		v, errSync := g.Sync(ctx)
		if errSync != nil {
			if errRefresh != nil {
				errSync = errRefresh
			}
			return galleryMsg{kind: kind, err: errSync}
		}
		return galleryMsg{kind: kind, version: &v, modelName: resolve(ctx, v), err: errRefresh}
	}
}

func (m galleryTabModel) advance() tea.Cmd {
	g, kind, resolve := m.gallery, m.kind, m.resolveModelName
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), galleryCallTimeout)
		defer cancel()
		v, err := g.Advance(ctx)
		if err != nil {
			return galleryMsg{kind: kind, err: err}
		}
		return galleryMsg{kind: kind, version: &v, modelName: resolve(ctx, v)}
	}
}

func (m galleryTabModel) applyExact(value string) tea.Cmd {
	g, kind, resolve := m.gallery, m.kind, m.resolveModelName
	return func() tea.Msg {
		if err := g.SetExactVersion(value); err != nil {
			return galleryMsg{kind: kind, err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), galleryCallTimeout)
		defer cancel()
		v, err := g.Sync(ctx)
		if errors.Is(err, carousel.ErrEmptyCollection) {
			if errRefresh := g.Refresh(ctx, false); errRefresh != nil {
				return galleryMsg{kind: kind, err: errRefresh}
			}
			v, err = g.Sync(ctx)
		}
		if err != nil {
			return galleryMsg{kind: kind, err: err}
		}
		return galleryMsg{kind: kind, version: &v, modelName: resolve(ctx, v)}
	}
}

// resolveModelName uses the embedded model reference and falls back to a model lookup.
func (m galleryTabModel) resolveModelName(ctx context.Context, v civitai.ModelVersion) string {
	if v.Model != nil && v.Model.Name != "" {
		return v.Model.Name
	}
	if v.ModelID <= 0 || m.source == nil {
		return ""
	}
	model, err := m.source.GetModel(ctx, v.ModelID)
	if err != nil {
		return ""
	}
	return model.Name
}

func (m galleryTabModel) copyVersionID() tea.Cmd {
	if m.current == nil {
		return nil
	}
	id, kind := m.current.Key(), m.kind
	return func() tea.Msg {
		if err := copyToClipboard(id); err != nil {
			return galleryStatusMsg{kind: kind, err: err}
		}
		return galleryStatusMsg{kind: kind, status: fmt.Sprintf(T("gallery_copied"), id)}
	}
}

func (m galleryTabModel) openPage() tea.Cmd {
	if m.current == nil {
		return nil
	}
	v, kind, site := *m.current, m.kind, m.site
	return func() tea.Msg {
		if v.ModelID <= 0 {
			return galleryStatusMsg{kind: kind, err: errors.New(T("gallery_no_model"))}
		}
		if err := openModelPage(site, v.ModelID, v.ID); err != nil {
			return galleryStatusMsg{kind: kind, err: err}
		}
		return galleryStatusMsg{kind: kind, status: fmt.Sprintf(T("gallery_opened"), browser.ModelPageURL(site, v.ModelID, v.ID))}
	}
}

func (m galleryTabModel) Update(msg tea.Msg) (galleryTabModel, tea.Cmd) {
	switch msg := msg.(type) {
	case localeChangedMsg:
		m.refreshContent()
		return m, nil
	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshContent()
		return m, cmd
	case galleryMsg:
		if msg.kind != m.kind {
			return m, nil
		}
		m.loading = false
		m.lastErr = msg.err
		if errors.Is(msg.err, carousel.ErrEmptyCollection) {
			m.lastErr = nil
			m.current = nil
		}
		if msg.version != nil {
			m.current = msg.version
			m.model = msg.modelName
			m.viewport.GotoTop()
		}
		m.refreshContent()
		return m, nil
	case galleryStatusMsg:
		if msg.kind != m.kind {
			return m, nil
		}
		m.status, m.lastErr = msg.status, msg.err
		m.refreshContent()
		return m, nil
	case tea.KeyMsg:
		if m.editing {
			return m.handleEditingKey(msg)
		}
		return m.handleNormalKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m galleryTabModel) handleNormalKey(msg tea.KeyMsg) (galleryTabModel, tea.Cmd) {
	switch msg.String() {
	case " ", "space", "enter":
		if m.loading {
			return m, nil
		}
		return m, m.startLoading(m.advance())
	case "b":
		if m.loading {
			return m, nil
		}
		m.gallery.CycleBaseModel()
		return m, m.startLoading(m.refresh(true))
	case "p":
		if m.loading {
			return m, nil
		}
		m.gallery.CyclePeriod()
		return m, m.startLoading(m.refresh(true))
	case "r":
		if m.loading {
			return m, nil
		}
		return m, m.startLoading(m.refresh(true))
	case "y":
		return m, m.copyVersionID()
	case "o":
		return m, m.openPage()
	case "e":
		m.editing = true
		m.input.Prompt = T("gallery_edit_prompt")
		m.input.SetValue(m.gallery.ExactVersion())
		m.input.Focus()
		m.refreshContent()
		return m, textinput.Blink
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m galleryTabModel) handleEditingKey(msg tea.KeyMsg) (galleryTabModel, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.editing = false
		m.input.Blur()
		value := strings.TrimSpace(m.input.Value())
		return m, m.startLoading(m.applyExact(value))
	case "esc":
		m.editing = false
		m.input.Blur()
		m.refreshContent()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.refreshContent()
	return m, cmd
}

func (m *galleryTabModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.input.Width = w - lipgloss.Width(T("gallery_edit_prompt")) - 4
	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = h
	}
	m.refreshContent()
}

func (m *galleryTabModel) refreshContent() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

func (m galleryTabModel) View() string {
	if !m.ready {
		return T("loading")
	}
	return m.viewport.View()
}

func (m galleryTabModel) renderFilters() string {
	f := m.gallery.Filters()
	base := f.BaseModel
	if base == "" {
		base = T("gallery_any")
	}
	return filterActiveStyle.Render(base) + filterStyle.Render("·") + filterActiveStyle.Render(f.Period)
}

func (m galleryTabModel) renderContent() string {
	var sb strings.Builder

	pos, total := m.gallery.Position()
	position := "-"
	if total > 0 {
		position = fmt.Sprintf("%d/%d", pos+1, total)
	}
	sb.WriteString(titleStyle.Render(fmt.Sprintf(" %s  %s  %s", string(m.kind), m.renderFilters(), position)))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render(T("gallery_help")))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", m.width))
	sb.WriteString("\n")

	if m.editing {
		sb.WriteString(m.input.View())
		sb.WriteString("\n")
		sb.WriteString(helpStyle.Render(T("gallery_edit_help")))
		sb.WriteString("\n\n")
	}
	if m.loading {
		sb.WriteString(m.spinner.View() + " " + T("gallery_loading"))
		sb.WriteString("\n")
	}
	if m.lastErr != nil {
		sb.WriteString(errorStyle.Render("⚠ " + T("error") + ": " + m.lastErr.Error()))
		sb.WriteString("\n")
	} else if m.status != "" {
		sb.WriteString(successStyle.Render(m.status))
		sb.WriteString("\n")
	}

	if m.current == nil {
		if !m.loading {
			sb.WriteString(subtitleStyle.Render(T("gallery_empty")))
		}
		return sb.String()
	}

	v := m.current
	value := m.gallery.BoundValue()
	if value == "" {
		value = "-"
	}
	var info strings.Builder
	info.WriteString(formatKV(T("gallery_model"), m.model) + "\n")
	info.WriteString(formatKV(T("gallery_version"), fmt.Sprintf("%s (%d)", v.Name, v.ID)) + "\n")
	info.WriteString(formatKV(T("gallery_base_model"), v.BaseModel) + "\n")
	info.WriteString(formatKV(T("gallery_image"), v.FirstImageURL()) + "\n")
	info.WriteString(formatKV(T("gallery_value"), value))
	if exact := m.gallery.ExactVersion(); exact != "" {
		info.WriteString("\n" + formatKV(T("gallery_exact"), exact))
	}
	box := sectionStyle
	if m.width > 4 {
		box = box.Width(m.width - 2)
	}
	sb.WriteString(box.Render(info.String()))
	sb.WriteString("\n")

	if desc := htmlToText(v.Description); desc != "" {
		wrap := lipgloss.NewStyle()
		if m.width > 2 {
			wrap = wrap.Width(m.width - 2)
		}
		sb.WriteString(wrap.Render(desc))
		sb.WriteString("\n")
	}
	return sb.String()
}
