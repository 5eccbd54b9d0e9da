// Package migrations embeds the SQL schema migrations into the binary.
//
// Importing this package for its side effect registers the files with the
// database package, so tfbridge runs migrations without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
