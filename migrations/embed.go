// Package migrations embeds SQL migration files into the binary so the node
// can migrate its database without the files on disk.
package migrations

import (
	"embed"

	"github.com/dhpke/nmos-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
