package regwatch

import _ "embed"

// DefaultConfig holds the built-in configuration defaults.
//
//go:embed config/regwatch.toml
var DefaultConfig []byte
