// Package prompts provides externalized prompt templates with override support.
package prompts

import "embed"

//go:embed ai/*.md
var embeddedFS embed.FS
