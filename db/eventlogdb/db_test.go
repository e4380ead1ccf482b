package eventlogdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrations(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	current, latest, err := db.Version()
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if current != latest {
		t.Fatalf("current version = %d, want latest %d", current, latest)
	}
	if latest == 0 {
		t.Fatal("latest version = 0, want at least one registered migration")
	}

	// migrateUp must be a no-op against an already-current database.
	if err := db.migrateUp(context.Background()); err != nil {
		t.Fatalf("re-migrate up: %v", err)
	}
	if current2, _, err := db.Version(); err != nil {
		t.Fatalf("version: %v", err)
	} else if current2 != current {
		t.Fatalf("version changed on no-op migrate: %d -> %d", current, current2)
	}
}

func TestAppendAndRecent(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	want := []Record{
		{Time: base, Kind: "ClientConnect", ClientID: 1, Addr: "127.0.0.1:1111", Country: "unknown"},
		{Time: base.Add(time.Second), Kind: "RejectedClient", ClientID: 0, Addr: "127.0.0.1:2222", Country: "us"},
		{Time: base.Add(2 * time.Second), Kind: "ClientDisconnect", ClientID: 1, Addr: "127.0.0.1:1111", Country: "unknown"},
	}
	for _, r := range want {
		if err := db.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := db.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recent returned %d rows, want 2", len(got))
	}
	if got[0].Kind != "ClientDisconnect" || got[1].Kind != "RejectedClient" {
		t.Fatalf("recent order = %q, %q, want newest first", got[0].Kind, got[1].Kind)
	}
	if !got[0].Time.Equal(want[2].Time) {
		t.Errorf("time = %v, want %v", got[0].Time, want[2].Time)
	}
	if got[1].Country != "us" {
		t.Errorf("country = %q, want %q", got[1].Country, "us")
	}
}
