// Package config loads the preview server's runtime configuration from
// defaults, environment variables, an optional YAML file and CLI flags, in
// increasing order of precedence.
package config
