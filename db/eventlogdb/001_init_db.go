package eventlogdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, strings.ReplaceAll(`
		CREATE TABLE events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			time      INTEGER NOT NULL,
			kind      TEXT NOT NULL,
			client_id INTEGER NOT NULL DEFAULT 0,
			addr      TEXT NOT NULL DEFAULT '',
			country   TEXT NOT NULL DEFAULT ''
		) STRICT;
	`, `
		`, "\n")); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX events_time_idx ON events(time)`); err != nil {
		return fmt.Errorf("create events index: %w", err)
	}
	return nil
}
