package utils

import (
	"io"

	"github.com/fatih/color"
)

// The Print helpers write to the terminal; the Fprint forms write to w so an
// interactive session can keep all of its output on one stream.

func PrintSuccess(message string) {
	FprintSuccess(color.Output, message)
}

func PrintError(message string) {
	FprintError(color.Error, message)
}

func PrintInfo(message string) {
	FprintInfo(color.Output, message)
}

func FprintSuccess(w io.Writer, message string) {
	green := color.New(color.FgGreen, color.Bold)
	green.Fprintf(w, "✓ %s\n", message)
}

func FprintError(w io.Writer, message string) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(w, "✗ %s\n", message)
}

func FprintInfo(w io.Writer, message string) {
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(w, "ℹ %s\n", message)
}
