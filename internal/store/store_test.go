package store

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

func testBackends(t *testing.T) map[string]Store {
	t.Helper()
	backends := map[string]Store{"memory": NewInMemoryStore()}

	sqliteStore, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "nested", "donorpipe.db")))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { sqliteStore.Close() })
	backends["sqlite"] = sqliteStore

	if connStr, ok := syscall.Getenv("DATABASE_URL"); ok && connStr != "" {
		pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
		if err != nil {
			t.Logf("Postgres not available: %v", err)
		} else {
			pgStore.db.Exec("DELETE FROM donors")
			pgStore.db.Exec("DELETE FROM inbound_dedup")
			t.Cleanup(func() { pgStore.Close() })
			backends["postgres"] = pgStore
		}
	}
	return backends
}

func donor(userID, name, group, location string) models.DonorRecord {
	return models.DonorRecord{
		UserID:           models.UserID(userID),
		Name:             name,
		PhoneNumber:      "phone-" + userID,
		BloodGroup:       group,
		LastDonationDate: "2023-05-01",
		Location:         models.ParseLocation(location),
	}
}

func TestDonorRepo(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ref, err := s.GetDonorByUserID(ctx, "1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ref != nil {
				t.Fatalf("expected no donor, got %+v", ref)
			}

			created, err := s.InsertDonor(ctx, donor("1", "Jane", "A+", "Kochi, North, Ernakulam"))
			if err != nil {
				t.Fatalf("InsertDonor error: %v", err)
			}
			if created.ID == "" || created.Name != "Jane" {
				t.Errorf("unexpected ref %+v", created)
			}
			if _, err := s.InsertDonor(ctx, donor("2", "Ravi", "A+", "Aluva, , Ernakulam")); err != nil {
				t.Fatal(err)
			}
			if _, err := s.InsertDonor(ctx, donor("3", "Mini", "O-", "Kochi")); err != nil {
				t.Fatal(err)
			}

			ref, err = s.GetDonorByUserID(ctx, "1")
			if err != nil || ref == nil || ref.ID != created.ID {
				t.Fatalf("GetDonorByUserID = %+v, %v", ref, err)
			}

			matches, err := s.SearchDonors(ctx, "A+", "kochi")
			if err != nil {
				t.Fatalf("SearchDonors error: %v", err)
			}
			if len(matches) != 1 || matches[0].Name != "Jane" || matches[0].PhoneNumber != "phone-1" {
				t.Fatalf("unexpected matches: %+v", matches)
			}
			if matches[0].Location != (models.Location{Locality: "Kochi", Panchayat: "North", District: "Ernakulam"}) {
				t.Errorf("unexpected location %+v", matches[0].Location)
			}

			matches, err = s.SearchDonors(ctx, "A+", "Ernakulam")
			if err != nil || len(matches) != 2 {
				t.Errorf("expected both A+ donors in Ernakulam, got %+v, %v", matches, err)
			}

			// Idempotent with no intervening writes.
			again, _ := s.SearchDonors(ctx, "A+", "Ernakulam")
			if len(again) != len(matches) || again[0] != matches[0] {
				t.Errorf("repeated search returned different results")
			}

			matches, err = s.SearchDonors(ctx, "a+", "Kochi")
			if err != nil || len(matches) != 0 {
				t.Errorf("blood group must match exactly, got %+v", matches)
			}

			matches, err = s.SearchDonors(ctx, "O-", "100%")
			if err != nil || len(matches) != 0 {
				t.Errorf("LIKE wildcards must be escaped, got %+v", matches)
			}
		})
	}
}

func TestDedupRepo(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			fresh, err := s.RecordInbound(ctx, "m1", "42")
			if err != nil || !fresh {
				t.Fatalf("expected first record to be fresh, got %v, %v", fresh, err)
			}
			fresh, err = s.RecordInbound(ctx, "m1", "42")
			if err != nil || fresh {
				t.Fatalf("expected second record to be a duplicate, got %v, %v", fresh, err)
			}
			fresh, err = s.RecordInbound(ctx, "m2", "42")
			if err != nil || !fresh {
				t.Fatalf("expected a different id to be fresh, got %v, %v", fresh, err)
			}
			if err := s.MarkProcessed(ctx, "m1"); err != nil {
				t.Fatalf("MarkProcessed error: %v", err)
			}
			if err := s.MarkProcessed(ctx, "unknown"); err != nil {
				t.Fatalf("MarkProcessed on unknown id should not fail: %v", err)
			}
		})
	}
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":        "postgres",
		"postgresql://localhost/db":          "postgres",
		"host=localhost dbname=donorpipe":    "postgres",
		"/var/lib/donorpipe/state.db":        "sqlite3",
		"file:test.db?cache=shared&mode=rwc": "sqlite3",
	}
	for dsn, want := range tests {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}
