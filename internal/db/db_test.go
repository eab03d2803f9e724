package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return database
}

func TestRunMigrationsCreatesTables(t *testing.T) {
	database := openTestDB(t)

	for _, table := range []string{"scan_history", "scan_reports", "scan_errors", "settings"} {
		var name string
		err := database.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", table, err)
		}
	}
}

func TestOpenAppliesPragmasToEveryConnection(t *testing.T) {
	database := openTestDB(t)
	// No idle connections: every query below runs on a fresh connection.
	database.SetMaxIdleConns(0)

	for i := 0; i < 2; i++ {
		var (
			journal string
			fk      int
			busy    int
		)
		if err := database.QueryRow(`PRAGMA journal_mode`).Scan(&journal); err != nil {
			t.Fatal(err)
		}
		if err := database.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
			t.Fatal(err)
		}
		if err := database.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil {
			t.Fatal(err)
		}
		if journal != "wal" || fk != 1 || busy != 5000 {
			t.Errorf("connection %d: journal_mode=%q foreign_keys=%d busy_timeout=%d", i, journal, fk, busy)
		}
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "fsaudit.db")
	database, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	database.Close()
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	if err := RunMigrations(database); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
}

func TestSaveAndLoadSettings(t *testing.T) {
	database := openTestDB(t)

	if err := SaveSetting(database, "schedule", "0 3 * * *"); err != nil {
		t.Fatal(err)
	}
	if err := SaveSetting(database, "scan_paused", "true"); err != nil {
		t.Fatal(err)
	}
	if err := SaveSetting(database, "schedule", "0 4 * * *"); err != nil {
		t.Fatal(err)
	}

	got, err := LoadSettings(database)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d settings, want 2: %v", len(got), got)
	}
	if got["schedule"] != "0 4 * * *" {
		t.Errorf("schedule = %q, want upserted value", got["schedule"])
	}
	if got["scan_paused"] != "true" {
		t.Errorf("scan_paused = %q", got["scan_paused"])
	}
}

func TestScanHistoryStatusConstraint(t *testing.T) {
	database := openTestDB(t)
	_, err := database.Exec(`
		INSERT INTO scan_history (root_path, started_at, status, triggered_by, created_at)
		VALUES ('/r', 1, 'bogus', 'manual', 1)`)
	if err == nil {
		t.Fatal("expected CHECK constraint to reject unknown status")
	}
}
