package db

import "embed"

// SQLEmbeddedFS holds the schema and the query files. The application mounts the
// "sql" directory with internal/mounts so that a directory on disk can replace it.
//
//go:embed sql
var SQLEmbeddedFS embed.FS
