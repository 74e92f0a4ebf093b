// Package style provides consistent terminal styling for devkit status output.
// Model output (plans, diffs) is never styled; only status lines go through here.
package style

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	// Bold renders emphasized text.
	Bold = lipgloss.NewStyle().Bold(true)

	// Dim renders secondary text such as paths.
	Dim = lipgloss.NewStyle().Faint(true)

	// Success renders positive outcomes.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)

	// Warning renders recoverable problems.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)

	// Error renders failures.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	// Info renders neutral highlights.
	Info = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
	ArrowPrefix   = Info.Render("→")
)

func init() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		DisableColor()
	}
}

// DisableColor strips ANSI styling from every style. Used when stdout is
// piped so saved plans and diffs stay clean.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
	SuccessPrefix = "✓"
	WarningPrefix = "⚠"
	ErrorPrefix = "✗"
	ArrowPrefix = "→"
}

// PrintWarning prints a formatted warning line to stderr.
func PrintWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", WarningPrefix, fmt.Sprintf(format, args...))
}

// PrintError prints a formatted error line to stderr.
func PrintError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorPrefix, fmt.Sprintf(format, args...))
}

// Status prints a dimmed bracketed status line to stderr, e.g.
// "[Saved patch to .rr_assist/patch.diff]".
func Status(format string, args ...interface{}) {
	Fstatus(os.Stderr, format, args...)
}

// Fstatus is Status writing to w.
func Fstatus(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, Dim.Render("["+fmt.Sprintf(format, args...)+"]"))
}
