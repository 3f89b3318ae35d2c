// Package config loads the YAML configuration used by the vecbuf command.
//
// Sizes are humanized strings ("64MiB", "4GiB"); durations use Go syntax
// ("30s"). Every field can be left out and falls back to Default. A subset of
// fields can be overridden with VECBUF_* environment variables.
package config
