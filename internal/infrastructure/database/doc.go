// Package database provides the SQLite connection behind the gateway's
// frame spool.
//
// This package manages:
//   - Opening the database file with busy timeout and optional WAL mode
//   - Versioned schema migrations read from an fs.FS
//   - Transactions via InTx
//
// The file is created with 0600 permissions. All queries use parameterised
// statements.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Spool.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
