// Package printer renders arena CLI output. Every function writes to Out or
// ErrOut so commands can be tested by swapping them.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Out receives regular output.
	Out io.Writer = os.Stdout
	// ErrOut receives error reports.
	ErrOut io.Writer = os.Stderr
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// SetOutput redirects both streams and returns a function restoring them.
func SetOutput(out, errOut io.Writer) (restore func()) {
	prevOut, prevErr := Out, ErrOut
	Out, ErrOut = out, errOut
	return func() {
		Out, ErrOut = prevOut, prevErr
	}
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Out, msg)
}

// Error prints a title, an explanation and numbered suggestions to ErrOut
// and returns an error carrying only the title, for Cobra.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed between the
// explanation and the suggestions.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(ErrOut, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(ErrOut, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(ErrOut, "\n")
		for key, value := range context {
			fmt.Fprintf(ErrOut, "  %s: %s\n", key, value)
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(ErrOut, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(ErrOut, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(ErrOut, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(ErrOut, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Cobra is silenced; only the title travels with the error.
	return fmt.Errorf("%s", title)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Roster prints the room's player list, highlighting the local player.
func Roster(names []string, self string) {
	if len(names) == 0 {
		fmt.Fprintf(Out, "Players: (nobody yet)\n")
		return
	}
	fmt.Fprintf(Out, "Players (%d):\n", len(names))
	for i, name := range names {
		if name == self {
			bold.Fprintf(Out, "  %d. %s (you)\n", i+1, name)
			continue
		}
		fmt.Fprintf(Out, "  %d. %s\n", i+1, name)
	}
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Fprintln(Out, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}
