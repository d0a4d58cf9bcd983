// Package config holds the configuration of a harvester run: defaults,
// validation, the YAML profile file and the XDG paths.
package config
