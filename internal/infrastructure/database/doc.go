// Package database provides the SQLite store behind parameter history.
//
// It manages:
//   - the connection (WAL mode, busy timeout, single writer)
//   - versioned schema migrations read from an fs.FS
//   - health checks
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: every .up.sql has a matching .down.sql, and
// new columns are nullable or carry a default.
package database
