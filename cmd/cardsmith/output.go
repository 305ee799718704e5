package main

import (
	"fmt"
	"io"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// notices receives status lines. Command results go to cmd.OutOrStdout.
var notices io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func notice(color, glyph, format string, args ...any) {
	fmt.Fprintln(notices, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(colorGreen, "✓", format, args...) }
func printError(format string, args ...any)   { notice(colorRed, "✗", format, args...) }
func printWarning(format string, args ...any) { notice(colorYellow, "!", format, args...) }

// printStatus writes an aligned "label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(notices, "  %-12s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
