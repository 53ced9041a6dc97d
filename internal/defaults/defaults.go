// Package defaults provides the embedded default configuration file
// for the gyre init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the starter configuration written by "gyre init".
//
//go:embed config.example.yaml
var ConfigYAML []byte
