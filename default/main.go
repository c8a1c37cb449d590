// Package defaults provides embedded default assets (settings and the
// autocomplete prompt).
package defaults

import _ "embed"

//go:embed default_prompt.md
var DefaultPrompt string

//go:embed default_config.json
var DefaultConfigJSON []byte
