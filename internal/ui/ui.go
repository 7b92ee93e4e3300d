// Package ui renders catalog and manager results for the terminal.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Semantic color palette.
var (
	colorPrimary = lipgloss.Color("#00BFFF") // Cyan: headings
	colorAccent  = lipgloss.Color("#FFD700") // Gold: stale, attention
	colorSuccess = lipgloss.Color("#00E676") // Green: indexed
	colorDanger  = lipgloss.Color("#FF5252") // Red: failed
	colorMuted   = lipgloss.Color("#8C8C8C") // Gray: secondary text
)

// Status icons.
const (
	iconDone    = "✓"
	iconFailed  = "✗"
	iconStale   = "◎"
	iconWaiting = "·"
	iconRemoved = "–"
)

// styles holds the lipgloss styles bound to one output's renderer.
type styles struct {
	heading lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	danger  lipgloss.Style
	cell    lipgloss.Style
	header  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		heading: r.NewStyle().Foreground(colorPrimary).Bold(true),
		label:   r.NewStyle().Foreground(colorMuted),
		muted:   r.NewStyle().Foreground(colorMuted),
		success: r.NewStyle().Foreground(colorSuccess),
		warn:    r.NewStyle().Foreground(colorAccent),
		danger:  r.NewStyle().Foreground(colorDanger).Bold(true),
		cell:    r.NewStyle().Padding(0, 1),
		header:  r.NewStyle().Padding(0, 1).Foreground(colorPrimary).Bold(true),
	}
}

// Printer writes styled output to a writer. Color is used only when the
// writer is a terminal.
type Printer struct {
	w  io.Writer
	st styles
}

// New creates a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w, st: newStyles(lipgloss.NewRenderer(w))}
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.w, p.st.danger.Render("error:")+" "+msg)
}

// Warn prints a warning line.
func (p *Printer) Warn(msg string) {
	fmt.Fprintln(p.w, p.st.warn.Render("warning:")+" "+msg)
}

// Info prints a de-emphasized line.
func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.w, p.st.muted.Render(msg))
}

// Success prints a confirmation line.
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.w, p.st.success.Render(iconDone+" "+msg))
}

// field prints an aligned "label value" line.
func (p *Printer) field(label string, value any) {
	fmt.Fprintf(p.w, "  %s %v\n", p.st.label.Render(fmt.Sprintf("%-12s", label+":")), value)
}
