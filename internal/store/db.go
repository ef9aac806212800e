package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB wraps the single relational database the whole process shares. Every
// component that touches it acquires its own handle from the pool; the
// *sqlx.DB itself is already safe for concurrent use.
type DB struct {
	*sqlx.DB
}

// Open connects to the SQLite database at path ("file:..." or ":memory:")
// and creates the per-kind tables plus the shared events table if they do
// not already exist.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "cannot open database")
	}
	// SQLite allows exactly one writer; a single connection avoids
	// SQLITE_BUSY under our own concurrent reconcile loops.
	conn.SetMaxOpenConns(1)

	db := &DB{DB: conn}
	if err := db.migrate(); err != nil {
		return nil, errors.Wrap(err, "cannot migrate database")
	}
	return db, nil
}

func (db *DB) migrate() error {
	for _, k := range Catalogue {
		if err := db.createResourceTable(k); err != nil {
			return errors.Wrapf(err, "cannot create table %s", k.Table)
		}
	}
	if _, err := db.Exec(eventsTableDDL); err != nil {
		return errors.Wrap(err, "cannot create events table")
	}
	return nil
}

func (db *DB) createResourceTable(k KindInfo) error {
	projected := ""
	for _, p := range k.Projected {
		projected += ",\n\t" + p.Column + " TEXT"
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	uid TEXT PRIMARY KEY,
	namespace TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	api_version TEXT NOT NULL,
	kind TEXT NOT NULL,
	spec TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT '{}',
	labels TEXT NOT NULL DEFAULT '{}',
	annotations TEXT NOT NULL DEFAULT '{}',
	owner_references TEXT NOT NULL DEFAULT '[]',
	resource_version INTEGER NOT NULL,
	generation INTEGER NOT NULL,
	creation_timestamp TEXT NOT NULL,
	deletion_timestamp TEXT%s
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_live_name
	ON %s (namespace, name)
	WHERE deletion_timestamp IS NULL;
`, k.Table, projected, k.Table, k.Table)
	_, err := db.Exec(ddl)
	return err
}

const eventsTableDDL = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_type TEXT NOT NULL,
	resource_uid TEXT NOT NULL,
	resource_name TEXT NOT NULL,
	resource_namespace TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	resource_version INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	object TEXT NOT NULL
);
`
