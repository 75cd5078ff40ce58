// Package database provides the SQLite document store used for hosts and grids.
//
// It manages:
//   - The connection, with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (normally the embedded
//     migrations package)
//   - Health checks for startup and /api/health
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each migration runs in its own transaction.
package database
