package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// ExportFilename derives the download name of a document from its label:
// lower-cased, spaces turned into underscores, ".txt" appended.
func ExportFilename(label string) string {
	name := strings.ToLower(strings.TrimSpace(label))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		name = "document"
	}
	return name + ".txt"
}

func sanitizeString(s string) string {
	if !utf8.ValidString(s) {
		return strings.ToValidUTF8(s, "?")
	}
	return s
}

// ExportDocument writes content as plain text into dir and returns the path.
func ExportDocument(dir, label, content string) (string, error) {
	if dir == "" {
		dir = "exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, ExportFilename(label))
	if err := os.WriteFile(path, []byte(sanitizeString(content)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

func FprintExported(w io.Writer, path string) {
	cyan := color.New(color.FgCyan)
	FprintSuccess(w, "Document exported successfully: "+filepath.Base(path))
	cyan.Fprintf(w, "📁 File location: %s\n", path)
}
