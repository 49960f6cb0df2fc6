package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "ronin.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordAndQueryDecisions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.RecordDecision(ctx, "req-1", "get_weather", "allowed", "", "", 0.2); err != nil {
		t.Fatalf("RecordDecision() error: %v", err)
	}
	if err := db.RecordDecision(ctx, "req-2", "delete_account", "blocked", "alignment", "alignment score below threshold", 0.0); err != nil {
		t.Fatalf("RecordDecision() error: %v", err)
	}
	if err := db.RecordDecision(ctx, "req-3", "send_email", "blocked", "sequence", "rapid burst", 0.0); err != nil {
		t.Fatalf("RecordDecision() error: %v", err)
	}

	t.Run("all decisions newest first", func(t *testing.T) {
		all, err := db.RecentDecisions(ctx, "", 10)
		if err != nil {
			t.Fatalf("RecentDecisions() error: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("got %d decisions, want 3", len(all))
		}
		if all[0].Tool != "send_email" || all[2].Tool != "get_weather" {
			t.Errorf("wrong ordering: %v, %v", all[0].Tool, all[2].Tool)
		}
	})

	t.Run("filter by result", func(t *testing.T) {
		blocked, err := db.RecentDecisions(ctx, "blocked", 10)
		if err != nil {
			t.Fatalf("RecentDecisions() error: %v", err)
		}
		if len(blocked) != 2 {
			t.Fatalf("got %d blocked, want 2", len(blocked))
		}
		if blocked[0].Layer != "sequence" {
			t.Errorf("layer = %q, want sequence", blocked[0].Layer)
		}
		if blocked[1].Reason != "alignment score below threshold" {
			t.Errorf("reason = %q", blocked[1].Reason)
		}
	})

	t.Run("limit respected", func(t *testing.T) {
		one, err := db.RecentDecisions(ctx, "", 1)
		if err != nil {
			t.Fatalf("RecentDecisions() error: %v", err)
		}
		if len(one) != 1 {
			t.Errorf("got %d decisions, want 1", len(one))
		}
	})
}

func TestRecordSanitizedSpan(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.RecordSanitizedSpan(ctx, "req-1", "fetch_page", "HTML_COMMENT", 42, "<!-- hidden"); err != nil {
		t.Fatalf("RecordSanitizedSpan() error: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sanitized_spans WHERE category = 'HTML_COMMENT'`).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	if count != 1 {
		t.Errorf("span count = %d, want 1", count)
	}
}

func TestOpenIdempotentSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ronin.db")
	ctx := context.Background()

	db1, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	if err := db1.RecordDecision(ctx, "r", "t", "allowed", "", "", 1.0); err != nil {
		t.Fatalf("RecordDecision() error: %v", err)
	}
	_ = db1.Close()

	db2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer db2.Close()

	got, err := db2.RecentDecisions(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentDecisions() error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("data lost across reopen: got %d rows", len(got))
	}
}
