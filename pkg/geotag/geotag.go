// Package geotag tags client addresses with a country code for metrics,
// using an optional ip2location-format database. It never gates behavior:
// a missing or unreadable database just means every lookup reports
// "unknown".
package geotag

import (
	"net/netip"
	"os"
	"strings"
	"sync"

	"github.com/pg9182/ip2x"
)

// Tagger looks up the country code for a peer address. The zero value is
// usable: it reports "local" for private and loopback addresses and
// "unknown" for every other address. A nil *Tagger reports "unknown" for
// every address.
type Tagger struct {
	mu   sync.RWMutex
	file *os.File
	db   *ip2x.DB
}

// Open loads an ip2location-format database file. The caller should Close
// the returned Tagger when done to release the underlying file.
func Open(name string) (*Tagger, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	db, err := ip2x.New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Tagger{file: f, db: db}, nil
}

// Close releases the underlying database file, if one is loaded.
func (t *Tagger) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

// Country returns the lowercase ISO 3166-1 alpha-2 country code for addr.
// On a non-nil Tagger, a private or loopback address reports "local". It
// reports "unknown" if t is nil, no database is loaded, or the lookup fails
// for any reason. It never returns an error: geography tagging is
// metrics-only and must never block or fail a caller on its account.
func (t *Tagger) Country(addr netip.Addr) string {
	if t == nil {
		return "unknown"
	}
	if addr.IsPrivate() || addr.IsLoopback() {
		return "local"
	}

	t.mu.RLock()
	db := t.db
	t.mu.RUnlock()
	if db == nil {
		return "unknown"
	}

	rec, err := db.Lookup(addr)
	if err != nil {
		return "unknown"
	}
	cc, ok := rec.GetString(ip2x.CountryCode)
	if !ok || cc == "" || cc == "-" {
		return "unknown"
	}
	return strings.ToLower(cc)
}
