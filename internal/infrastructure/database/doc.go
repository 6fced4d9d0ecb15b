// Package database provides the SQLite store of the Cybro bridge.
//
// The bridge keeps its entity registry (one row per exposed PLC variable)
// and a bounded state-change history in a single SQLite file. This package
// opens that file with sensible pragmas and applies the embedded schema
// migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are files named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, registered through SetMigrations (the
// top-level migrations package does this from an embed.FS).
package database
