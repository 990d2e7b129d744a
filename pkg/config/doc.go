// Package config loads wharf.cue configuration files, validated against the
// embedded CUE schema.
package config
