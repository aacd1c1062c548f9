package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY.
	// Users can disable with NO_COLOR environment variable.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects printer output. Passing nil restores the process streams.
func SetOutput(out, errOut io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	stdout = out
	stderr = errOut
}

// Field is a labelled detail shown under an error title.
// Fields keep their order, so the stage always precedes the command.
type Field struct {
	Key   string
	Value string
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Fprintf(stdout, "✓ %s", msg)
	} else {
		green.Fprint(stdout, msg)
	}
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}

// Detail prints a dimmed secondary line, e.g. the command a stage runs.
func Detail(format string, a ...any) {
	faint.Fprintf(stdout, "  %s", fmt.Sprintf(format, a...))
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Fprintf(stderr, "⚠️  %s", msg)
	} else {
		yellow.Fprint(stderr, msg)
	}
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error with title, explanation and suggestions to
// stderr and returns a plain error carrying only the title for Cobra.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext prints a formatted error with ordered context fields
// (stage, command, exit code...) and returns a plain error for Cobra.
func ErrorWithContext(title string, explanation string, fields []Field, suggestions []string) error {
	red.Fprintf(stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(stderr, "%s\n", strings.TrimRight(explanation, "\n"))
	}

	if len(fields) > 0 {
		fmt.Fprintf(stderr, "\n")
		width := 0
		for _, f := range fields {
			if len(f.Key) > width {
				width = len(f.Key)
			}
		}
		for _, f := range fields {
			fmt.Fprintf(stderr, "  %-*s  %s\n", width+1, f.Key+":", f.Value)
		}
	}

	printSuggestions(suggestions)

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

func printSuggestions(suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintf(stderr, "\n")
	if len(suggestions) == 1 {
		fmt.Fprintf(stderr, "%s\n", suggestions[0])
		return
	}
	fmt.Fprintf(stderr, "Either:\n")
	for i, suggestion := range suggestions {
		fmt.Fprintf(stderr, "  %d. %s\n", i+1, suggestion)
	}
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Fprintln(stdout, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}
