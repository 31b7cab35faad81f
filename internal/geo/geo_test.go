package geo

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestNilResolver(t *testing.T) {
	var r *Resolver
	got, err := r.Country(net.ParseIP("203.0.113.7"))
	if err != nil || got != "" {
		t.Fatalf("nil resolver = %q, %v", got, err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mmdb")
	if err := os.WriteFile(path, []byte("not a maxmind database"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected error opening garbage database")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.mmdb")); err == nil {
		t.Fatalf("expected error opening missing database")
	}
}
