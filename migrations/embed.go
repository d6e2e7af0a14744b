// Package migrations embeds the SQL schema migrations and registers them
// with the database layer. Importing this package (usually blank) is what
// makes DB.Migrate find the files.
package migrations

import (
	"embed"

	"github.com/greyfell/hubsync/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
