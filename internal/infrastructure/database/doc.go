// Package database opens the node's SQLite store and applies its schema.
//
// The store holds route snapshots and the audit trail. Migrations are
// embedded *.sql files named YYYYMMDD_HHMMSS_description.{up,down}.sql,
// applied oldest first. Schema changes are additive: new columns are
// nullable or carry a default.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
