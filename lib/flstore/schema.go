package flstore

import _ "embed"

//go:embed schema.sql
var Schema string

// schema applied to every per-course-run database on open. the dataset
// tables themselves come from the per-dataset templates in the config.
//
//go:embed runschema.sql
var RunSchema string
