// Package ui holds the terminal output helpers of the entmap command line.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level represents the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message configures a formatted block of output
type Message struct {
	Level       Level
	Context     string
	Problem     string
	Detail      string
	Suggestions []string
	Hints       []string
	NoColor     bool
}

func paint(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// Format renders the message
//
// Example output:
//
//	✗ UNKNOWN ENTITY: Bok
//	   Did you mean: Book?
//
//	   → List entities: entmap schema order
func Format(m Message) string {
	var b strings.Builder

	var header, body *color.Color
	var symbol string
	switch m.Level {
	case LevelWarning:
		header, body, symbol = paint(m.NoColor, color.FgYellow, color.Bold), paint(m.NoColor, color.FgYellow), "!"
	case LevelInfo:
		header, body, symbol = paint(m.NoColor, color.FgCyan, color.Bold), paint(m.NoColor, color.FgCyan), "i"
	default:
		header, body, symbol = paint(m.NoColor, color.FgRed, color.Bold), paint(m.NoColor, color.FgRed), "✗"
	}

	if m.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}

	if m.Detail != "" {
		body.Fprintf(&b, "   %s\n", m.Detail)
	}

	if len(m.Suggestions) > 0 {
		paint(m.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}

	if len(m.Hints) > 0 {
		b.WriteString("\n")
		cyan := paint(m.NoColor, color.FgCyan)
		for _, hint := range m.Hints {
			cyan.Fprintf(&b, "   → %s\n", hint)
		}
	}

	return b.String()
}

// Write writes a formatted message to w
func Write(w io.Writer, m Message) {
	fmt.Fprint(w, Format(m))
}

// Success writes a success line to w
func Success(w io.Writer, message string, noColor bool) {
	paint(noColor, color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", message)
}

// Info writes an informational line to w
func Info(w io.Writer, message string, noColor bool) {
	paint(noColor, color.FgCyan).Fprintln(w, message)
}

// UnknownEntity describes a reference to an entity that is not in the registry
func UnknownEntity(name string, known []string, noColor bool) Message {
	return Message{
		Level:       LevelError,
		Context:     "unknown entity",
		Problem:     name,
		Suggestions: Suggest(name, known),
		Hints:       []string{"List entities: entmap schema order"},
		NoColor:     noColor,
	}
}

// DataLossWarning describes a schema difference that drops data
func DataLossWarning(changes []string, noColor bool) Message {
	return Message{
		Level:   LevelWarning,
		Context: "data loss",
		Problem: fmt.Sprintf("%d change(s) will drop data", len(changes)),
		Detail:  strings.Join(changes, "\n   "),
		Hints:   []string{"Review the statements: entmap schema diff --sql", "Skip this prompt: --yes"},
		NoColor: noColor,
	}
}
