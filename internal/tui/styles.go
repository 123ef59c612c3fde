// Package tui provides the terminal gallery for CivitaiGallery: one browsing tab per model
// type, a read-only config view and a live log view.
package tui

import (
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

var (
	accent  = lipgloss.Color("#2563EB")
	ink     = lipgloss.Color("#E5E7EB")
	dim     = lipgloss.Color("#9CA3AF")
	faint   = lipgloss.Color("#6B7280")
	panel   = lipgloss.Color("#1F2937")
	edge    = lipgloss.Color("#374151")
	good    = lipgloss.Color("#10B981")
	caution = lipgloss.Color("#F59E0B")
	bad     = lipgloss.Color("#F43F5E")
	link    = lipgloss.Color("#38BDF8")
	heading = lipgloss.Color("#A78BFA")
)

var (
	tabBarStyle      = lipgloss.NewStyle().Background(panel).PaddingLeft(1)
	tabInactiveStyle = lipgloss.NewStyle().Foreground(dim).Background(panel).Padding(0, 2)
	tabActiveStyle   = tabInactiveStyle.Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(accent)
	statusBarStyle   = lipgloss.NewStyle().Foreground(dim).Background(panel).Padding(0, 1)

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(heading).MarginBottom(1)
	subtitleStyle = lipgloss.NewStyle().Foreground(dim).Italic(true)
	helpStyle     = lipgloss.NewStyle().Foreground(faint)

	// Version details box and its key/value rows.
	sectionStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(edge).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(link).Bold(true).Width(18)
	valueStyle   = lipgloss.NewStyle().Foreground(ink)

	// Base model and period chips.
	filterStyle       = lipgloss.NewStyle().Foreground(dim).Padding(0, 1)
	filterActiveStyle = filterStyle.Foreground(lipgloss.Color("#FFFFFF")).Background(accent)

	errorStyle   = lipgloss.NewStyle().Foreground(bad).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(good)
	warningStyle = lipgloss.NewStyle().Foreground(caution)
)

var logLevelStyles = map[log.Level]lipgloss.Style{
	log.PanicLevel: lipgloss.NewStyle().Foreground(bad).Bold(true),
	log.FatalLevel: lipgloss.NewStyle().Foreground(bad).Bold(true),
	log.ErrorLevel: lipgloss.NewStyle().Foreground(bad),
	log.WarnLevel:  lipgloss.NewStyle().Foreground(caution),
	log.InfoLevel:  lipgloss.NewStyle().Foreground(link),
	log.DebugLevel: lipgloss.NewStyle().Foreground(faint),
	log.TraceLevel: lipgloss.NewStyle().Foreground(faint).Faint(true),
}

func levelStyle(level log.Level) lipgloss.Style {
	if s, ok := logLevelStyles[level]; ok {
		return s
	}
	return lipgloss.NewStyle()
}

func formatKV(key, value string) string {
	return labelStyle.Render(key) + " " + valueStyle.Render(value)
}
