package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportFilename(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"Legal Petition", "legal_petition.txt"},
		{"  Khula Petition Draft ", "khula_petition_draft.txt"},
		{"NOTES", "notes.txt"},
		{"", "document.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ExportFilename(tt.label))
		})
	}
}

func TestExportDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	path, err := ExportDocument(dir, "Legal Petition", "IN THE FAMILY COURT")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "legal_petition.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "IN THE FAMILY COURT", string(data))
}

func TestExportDocumentReplacesInvalidUTF8(t *testing.T) {
	path, err := ExportDocument(t.TempDir(), "doc", "ok\xffok")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ok?ok", string(data))
}

func TestFprintHelpers(t *testing.T) {
	var out bytes.Buffer
	FprintExported(&out, filepath.Join("exports", "legal_petition.txt"))
	FprintError(&out, "tab not found")
	FprintInfo(&out, "Write your stressors here")

	assert.Contains(t, out.String(), "✓ Document exported successfully: legal_petition.txt\n")
	assert.Contains(t, out.String(), "📁 File location: "+filepath.Join("exports", "legal_petition.txt"))
	assert.Contains(t, out.String(), "✗ tab not found\n")
	assert.Contains(t, out.String(), "ℹ Write your stressors here\n")
}
