package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManagerRecordsCompletedScan(t *testing.T) {
	db := mustOpenDB(t)
	root, dup := buildSampleTree(t)
	m := NewManager(db, root, DefaultConfig())

	active, err := m.Start(context.Background(), "", "manual")
	if err != nil {
		t.Fatal(err)
	}
	if active.ID == 0 || active.RootPath != root {
		t.Errorf("active = %+v", active)
	}
	m.Wait()

	if m.ActiveScan() != nil {
		t.Error("ActiveScan should be nil after the scan finished")
	}

	var (
		status, rootPath          string
		filesProcessed, dupGroups int64
		reclaimable               int64
	)
	err = db.QueryRow(`
		SELECT status, root_path, files_processed, duplicate_groups, reclaimable_bytes
		FROM scan_history WHERE id = ?`, active.ID,
	).Scan(&status, &rootPath, &filesProcessed, &dupGroups, &reclaimable)
	if err != nil {
		t.Fatal(err)
	}
	if status != "completed" || rootPath != root || filesProcessed != 4 || dupGroups != 1 || reclaimable != 500 {
		t.Errorf("history row = %s %s %d %d %d", status, rootPath, filesProcessed, dupGroups, reclaimable)
	}

	r, err := LoadReport(context.Background(), db, active.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.RootPath != root || len(r.Statistics.Duplicates[dup]) != 2 {
		t.Errorf("stored report = %+v", r)
	}
}

func TestManagerSingleActiveScan(t *testing.T) {
	db := mustOpenDB(t)
	root := t.TempDir()
	createSyntheticTree(t, root, 2000)
	m := NewManager(db, root, Config{Processors: 1, QueueSize: 1})

	if _, err := m.Start(context.Background(), "", "manual"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background(), "", "manual"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start err = %v, want ErrAlreadyRunning", err)
	}

	snap, err := m.Cancel()
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	var status string
	if err := db.QueryRow(`SELECT status FROM scan_history WHERE id = ?`, snap.ID).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "cancelled" {
		t.Errorf("status = %q, want cancelled", status)
	}
	// A cancelled scan keeps its partial report.
	if _, err := LoadReport(context.Background(), db, snap.ID); err != nil {
		t.Errorf("partial report missing: %v", err)
	}

	if _, err := m.Cancel(); !errors.Is(err, ErrNoActiveScan) {
		t.Errorf("Cancel when idle err = %v, want ErrNoActiveScan", err)
	}
}

func TestManagerStartValidatesRoot(t *testing.T) {
	db := mustOpenDB(t)
	m := NewManager(db, "", DefaultConfig())

	if _, err := m.Start(context.Background(), "", "manual"); !errors.Is(err, ErrRootNotFound) {
		t.Errorf("no root: err = %v, want ErrRootNotFound", err)
	}
	if _, err := m.Start(context.Background(), filepath.Join(t.TempDir(), "gone"), "manual"); !errors.Is(err, ErrRootNotFound) {
		t.Errorf("missing root: err = %v, want ErrRootNotFound", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM scan_history`).Scan(&n)
	if n != 0 {
		t.Errorf("rejected starts created %d history rows", n)
	}
}

func TestManagerPersistsScanErrors(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	db := mustOpenDB(t)
	root := t.TempDir()
	locked := filepath.Join(root, "locked.txt")
	writeFile(t, locked, []byte("x"))
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}

	m := NewManager(db, root, DefaultConfig())
	active, err := m.Start(context.Background(), "", "schedule")
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()

	rows, err := db.Query(`SELECT path, kind FROM scan_errors WHERE scan_id = ?`, active.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	kinds := map[string]bool{}
	for rows.Next() {
		var path, kind string
		if err := rows.Scan(&path, &kind); err != nil {
			t.Fatal(err)
		}
		if path != locked {
			t.Errorf("unexpected error path %q", path)
		}
		kinds[kind] = true
	}
	if !kinds[string(KindHash)] {
		t.Errorf("hash_failure not persisted: %v", kinds)
	}

	var errCount int64
	db.QueryRow(`SELECT errors FROM scan_history WHERE id = ?`, active.ID).Scan(&errCount)
	if errCount != int64(len(kinds)) {
		t.Errorf("errors column = %d, want %d", errCount, len(kinds))
	}
}

func TestErrorLogCapsEntries(t *testing.T) {
	l := newErrorLog(3)
	for i := 0; i < 5; i++ {
		l.record("/p", KindWalk, errors.New("boom"))
	}
	entries, dropped := l.snapshot()
	if len(entries) != 3 || dropped != 2 {
		t.Errorf("kept %d dropped %d, want 3 and 2", len(entries), dropped)
	}
}

func TestMarkStaleScansFailed(t *testing.T) {
	db := mustOpenDB(t)
	id, err := insertScanRecord(db, time.Now(), "/r", "manual")
	if err != nil {
		t.Fatal(err)
	}

	if err := MarkStaleScansFailed(db); err != nil {
		t.Fatal(err)
	}

	var status string
	db.QueryRow(`SELECT status FROM scan_history WHERE id = ?`, id).Scan(&status)
	if status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
}
