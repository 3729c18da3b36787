package migrations

import "embed"

// Files exposes embedded SQL migration files, one subtree per database
// engine, ordered lexicographically within each subtree.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
