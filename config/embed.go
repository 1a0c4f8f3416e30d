// Package config carries the built-in default configuration.
package config

import _ "embed"

// Default is the embedded default configuration, merged under conf.yaml.
//
//go:embed default.yaml
var Default []byte
