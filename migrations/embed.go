// Package migrations embeds the gridhost schema so the binary can migrate
// a fresh database without the SQL files on disk.
package migrations

import "embed"

// FS holds the *.sql migration files at its root.
//
//go:embed *.sql
var FS embed.FS
