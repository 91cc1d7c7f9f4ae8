package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Status lines go to stderr so stdout stays clean for ids and JSON.
var statusOut io.Writer = os.Stderr

var (
	colorRed    = color.New(color.FgRed)
	colorGreen  = color.New(color.FgGreen)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
	colorBold   = color.New(color.Bold)
)

func colorize(c *color.Color, text string) string {
	if noColor {
		return text
	}
	return c.Sprint(text)
}

func emit(c *color.Color, marker, format string, args []any) {
	fmt.Fprintln(statusOut, colorize(c, marker+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { emit(colorGreen, "✓", format, args) }
func printError(format string, args ...any)   { emit(colorRed, "✗", format, args) }
func printWarning(format string, args ...any) { emit(colorYellow, "⚠", format, args) }
func printStep(format string, args ...any)    { emit(colorCyan, "→", format, args) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(statusOut, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
