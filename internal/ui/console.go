// Package ui renders colored console output for the teardown CLI.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	successStyle = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	errorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)

// Console writes styled lines to a single writer. Styling is disabled when
// the writer is not a terminal or NO_COLOR is set.
type Console struct {
	out   io.Writer
	color bool
}

// NewConsole returns a console writing to w, with color auto-detection when
// w is os.Stdout or os.Stderr.
func NewConsole(w io.Writer) *Console {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if os.Getenv("NO_COLOR") != "" {
		color = false
	}
	return &Console{out: w, color: color}
}

// NewPlainConsole returns a console that never emits ANSI styling.
// Used by tests and report files.
func NewPlainConsole(w io.Writer) *Console {
	return &Console{out: w}
}

func (c *Console) render(style lipgloss.Style, msg string) string {
	if !c.color {
		return msg
	}
	return style.Render(msg)
}

// Printf writes an unstyled line. Satisfies the engine's Observer interface.
func (c *Console) Printf(format string, v ...any) {
	fmt.Fprintf(c.out, format+"\n", v...)
}

// Headerf writes a bold section header.
func (c *Console) Headerf(format string, v ...any) {
	fmt.Fprintln(c.out, c.render(headerStyle, fmt.Sprintf(format, v...)))
}

// Successf writes a success line.
func (c *Console) Successf(format string, v ...any) {
	fmt.Fprintln(c.out, c.render(successStyle, fmt.Sprintf(format, v...)))
}

// Warnf writes a warning line.
func (c *Console) Warnf(format string, v ...any) {
	fmt.Fprintln(c.out, c.render(warnStyle, fmt.Sprintf(format, v...)))
}

// Errorf writes an error line.
func (c *Console) Errorf(format string, v ...any) {
	fmt.Fprintln(c.out, c.render(errorStyle, fmt.Sprintf(format, v...)))
}

// Dimf writes a de-emphasized line.
func (c *Console) Dimf(format string, v ...any) {
	fmt.Fprintln(c.out, c.render(dimStyle, fmt.Sprintf(format, v...)))
}
