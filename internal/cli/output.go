// Package cli provides terminal output helpers for clinicd commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorBold   = "\033[1m"
)

// Printer writes status lines, colored when the target is a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter writes to w. Color is enabled only for character devices.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: isTerminal(w)}
}

// DisableColor forces plain output.
func (p *Printer) DisableColor() *Printer {
	p.color = false
	return p
}

// Colorize returns text wrapped in color when enabled.
func (p *Printer) Colorize(text, color string) string {
	if !p.color {
		return text
	}
	return color + text + ColorReset
}

func (p *Printer) line(mark, color, format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.Colorize(mark, color), fmt.Sprintf(format, args...))
}

// Success prints a success message
func (p *Printer) Success(format string, args ...any) { p.line("✓", ColorGreen, format, args...) }

// Error prints an error message
func (p *Printer) Error(format string, args ...any) { p.line("✗", ColorRed, format, args...) }

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...any) { p.line("!", ColorYellow, format, args...) }

// Info prints an info message
func (p *Printer) Info(format string, args ...any) { p.line("i", ColorBlue, format, args...) }

// Table prints rows aligned in columns under a bold header.
func (p *Printer) Table(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, p.Colorize(strings.Join(header, "\t"), ColorBold))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Elapsed reports how long an operation took, rounded for display.
func (p *Printer) Elapsed(what string, start, end time.Time) {
	p.Info("%s in %s", what, FormatDuration(end.Sub(start)))
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
