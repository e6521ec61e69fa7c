// Package prompts holds the tab tables and the legal reference corpus
// compiled into the binary.
package prompts

import "embed"

//go:embed tabs/*.yaml corpus/*.md
var FS embed.FS
