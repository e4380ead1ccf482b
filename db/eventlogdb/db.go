// Package eventlogdb stores an append-only audit trail of netcode server
// events in sqlite3, for post-hoc operational inspection. Rows are never
// pruned; only reads through Recent are bounded, by its limit. It is driven
// by an embedder's tick loop, not by pkg/netcode itself.
package eventlogdb

import (
	"context"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
)

// DB stores an append-only event log in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens (and migrates to the latest version) a sqlite3 database at
// name. name == ":memory:" opens a private in-memory database, for tests
// and ephemeral deployments that don't need the log to survive a restart.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", dsn(name))
	if err != nil {
		return nil, err
	}
	db := &DB{x}

	if err := db.migrateUp(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// dsn builds the sqlite3 driver DSN. WAL and a longer busy timeout make
// concurrent append+recent access not immediately fall over; name == ":memory:"
// can't be routed through url.URL the way a real path can, since it has no
// scheme, so it's special-cased.
func dsn(name string) string {
	q := url.Values{
		"_journal":      {"WAL"},
		"_busy_timeout": {"6000"},
	}
	if name == ":memory:" {
		q.Set("cache", "shared")
		return name + "?" + q.Encode()
	}
	return (&url.URL{Path: name, RawQuery: q.Encode()}).String()
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Record is one row of the audit log.
type Record struct {
	ID       int64     `db:"id"`
	Time     time.Time `db:"-"`
	RawTime  int64     `db:"time"`
	Kind     string    `db:"kind"`
	ClientID uint64    `db:"client_id"`
	Addr     string    `db:"addr"`
	Country  string    `db:"country"`
}

// Append inserts one row for an observed event.
func (db *DB) Append(ctx context.Context, r Record) error {
	_, err := db.x.NamedExecContext(ctx, `
		INSERT INTO
		events ( time,  kind,  client_id,  addr,  country)
		VALUES (:time, :kind, :client_id, :addr, :country)
	`, map[string]any{
		"time":      r.Time.Unix(),
		"kind":      r.Kind,
		"client_id": r.ClientID,
		"addr":      r.Addr,
		"country":   r.Country,
	})
	return err
}

// Recent returns the most recently appended rows, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	var rows []Record
	if err := db.x.SelectContext(ctx, &rows, `
		SELECT id, time, kind, client_id, addr, country
		FROM events ORDER BY id DESC LIMIT ?
	`, limit); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Time = time.Unix(rows[i].RawTime, 0)
	}
	return rows, nil
}
