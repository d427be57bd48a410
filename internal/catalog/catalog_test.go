package catalog

import (
	"path/filepath"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.Record("fido", "select", "A0 00 00 06 47 2F 00 01"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := c.Record("piv", "verify-fail", "retries=2"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := c.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	// Recent orders newest first.
	if events[0].ClientID != "piv" || events[1].ClientID != "fido" {
		t.Fatalf("unexpected order: %+v", events)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := c.Record("fido", "event", "x"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	events, err := c.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
}
