// Package migrations embeds the SQL schema of the Cybro bridge.
//
// Importing this package (usually blank, from main) registers the files
// with the database package so that DB.Migrate can apply them.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.SetMigrations(files, ".")
}
