package server

import (
	"database/sql"
	"testing"
	"time"
)

func TestQlRecords(t *testing.T) {
	qr, err := NewQlRecords("memory")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := qr.LookupRecord("440"); err != sql.ErrNoRows {
		t.Errorf("empty lookup: got %v, expected ErrNoRows", err)
	}

	base := time.Now().Round(time.Second)
	records := []BundleRecord{
		{Key: "440", Size: 100, Origin: "hub/a", User: "alice", Created: base},
		{Key: "570", Size: 200, Origin: "hub/b", User: "bob", Created: base.Add(time.Second)},
		{Key: "440", Size: 150, Origin: "hub/b", User: "carol", Created: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := qr.SaveRecord(r); err != nil {
			t.Fatalf("SaveRecord(%s): %s", r.Key, err)
		}
	}

	// newest record wins the lookup
	r, err := qr.LookupRecord("440")
	if err != nil {
		t.Fatalf("LookupRecord: %s", err)
	}
	if r.Size != 150 || r.Origin != "hub/b" || r.User != "carol" {
		t.Errorf("LookupRecord = %+v", r)
	}

	recent, err := qr.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %s", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d rows", len(recent))
	}
	if recent[0].Key != "440" || recent[1].Key != "570" {
		t.Errorf("Recent order: %s, %s", recent[0].Key, recent[1].Key)
	}

	all, err := qr.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %s", err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(10) returned %d rows", len(all))
	}
}
