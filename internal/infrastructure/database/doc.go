// Package database opens the SQLite file behind the transfer journal.
//
// Open creates the file owner-only before SQLite touches it, keeps a single
// writer connection, and stamps an application id so a journal path that
// points at some other SQLite file is refused instead of migrated. Migrate
// applies forward-only *.up.sql files from any fs.FS, usually an embed.FS
// owned by the package that defines the schema.
//
//	db, err := database.Open(ctx, database.Config{Path: path, WALMode: true, ApplicationID: id})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, schemaFS); err != nil {
//	    return err
//	}
package database
