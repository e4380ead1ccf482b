package geotag

import (
	"net/netip"
	"testing"
)

func TestNilTaggerReportsUnknown(t *testing.T) {
	var tag *Tagger
	if c := tag.Country(netip.MustParseAddr("8.8.8.8")); c != "unknown" {
		t.Errorf("country = %q, want unknown", c)
	}
}

func TestZeroValueTaggerReportsUnknown(t *testing.T) {
	var tag Tagger
	if c := tag.Country(netip.MustParseAddr("8.8.8.8")); c != "unknown" {
		t.Errorf("country = %q, want unknown", c)
	}
}

func TestPrivateAddrReportsLocal(t *testing.T) {
	var tag Tagger
	if c := tag.Country(netip.MustParseAddr("192.168.1.1")); c != "local" {
		t.Errorf("country = %q, want local", c)
	}
	if c := tag.Country(netip.MustParseAddr("127.0.0.1")); c != "local" {
		t.Errorf("country = %q, want local", c)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open("/nonexistent/path/to/db.bin"); err == nil {
		t.Fatal("Open with a missing file should fail")
	}
}
