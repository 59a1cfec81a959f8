package migration

import "embed"

const migrationsDir = "migrations"

// Schema files are embedded so a single binary can bootstrap its store.
//
//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS
