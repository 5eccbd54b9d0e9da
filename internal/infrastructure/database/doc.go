// Package database provides the SQLite store behind the thing registry and
// the channel state history.
//
// Open configures WAL mode, the busy timeout and foreign keys, pins the pool
// to a single connection and restricts the database file to 0600.
//
// Usage:
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are read from MigrationsFS, which the migrations package fills
// with its embedded *.up.sql and *.down.sql files. Files are named
// YYYYMMDD_HHMMSS_description.{up,down}.sql and applied in version order,
// one transaction per migration.
package database
