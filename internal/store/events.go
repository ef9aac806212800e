package store

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// EventType is one of ADDED, MODIFIED, DELETED, matching the event journal
// schema every mutating operation appends to.
type EventType string

const (
	EventAdded    EventType = "ADDED"
	EventModified EventType = "MODIFIED"
	EventDeleted  EventType = "DELETED"
)

// Event is one row of the append-only journal: the source of truth for
// watch-style consumers, even though the core does not implement long-lived
// watches itself.
type Event struct {
	ID              int64     `db:"id"`
	ResourceType    string    `db:"resource_type"`
	ResourceUID     string    `db:"resource_uid"`
	ResourceName    string    `db:"resource_name"`
	ResourceNS      string    `db:"resource_namespace"`
	EventType       EventType `db:"event_type"`
	ResourceVersion int64     `db:"resource_version"`
	// Timestamp is the RFC 3339 text the journal stores; the column is
	// TEXT, so it scans as a string rather than a driver-parsed time.
	Timestamp string `db:"timestamp"`
	Object    string `db:"object"`
}

// appendEventTx appends one event row inside tx, the same transaction as
// the caller's row mutation, so the journal and the table never diverge.
func appendEventTx(tx *sqlx.Tx, kind string, r *Resource, evt EventType) error {
	obj, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "cannot marshal object for event journal")
	}
	_, err = tx.Exec(`
INSERT INTO events (resource_type, resource_uid, resource_name, resource_namespace, event_type, resource_version, timestamp, object)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		kind, r.Metadata.UID, r.Metadata.Name, r.Metadata.Namespace, string(evt), mustParseRV(r.Metadata.ResourceVersion), time.Now().UTC().Format(time.RFC3339Nano), string(obj),
	)
	return errors.Wrap(err, "cannot append event")
}

// ListEvents returns the full journal for a resource uid, in insertion
// order, for tests and any future watch-style consumer.
func ListEvents(db *DB, uid string) ([]Event, error) {
	var events []Event
	err := db.Select(&events, `SELECT * FROM events WHERE resource_uid = ? ORDER BY id ASC`, uid)
	return events, errors.Wrap(err, "cannot list events")
}
