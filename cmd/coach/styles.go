package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent = lipgloss.Color("#74c7ec")
	colorMuted  = lipgloss.Color("#a6adc8")
	colorDone   = lipgloss.Color("#a6e3a1")
	colorWarn   = lipgloss.Color("#fab387")

	titleStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	doneStyle  = lipgloss.NewStyle().Foreground(colorDone)
	errorStyle = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
)

var personaStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(colorAccent).
	Padding(0, 1)

var feedbackStyle = personaStyle.BorderForeground(colorDone)

// checklist renders objectives in scenario order, ticking the met ones.
func checklist(keys []string, labels map[string]string, progress map[string]bool) string {
	var b strings.Builder
	for _, k := range keys {
		label := labels[k]
		if label == "" {
			label = k
		}
		if progress[k] {
			b.WriteString(doneStyle.Render("  [x] " + label))
		} else {
			b.WriteString(mutedStyle.Render("  [ ] " + label))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
