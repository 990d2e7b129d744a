// Package cue provides the embedded CUE configuration schema.
package cue

import "embed"

// SchemaFS contains the embedded configuration schema.
//
//go:embed schema/*.cue
var SchemaFS embed.FS

// SchemaFile is the path of the configuration schema within SchemaFS.
const SchemaFile = "schema/config.cue"
