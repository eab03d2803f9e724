package scan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eargollo/fsaudit/internal/report"
)

// maxLoggedErrors caps the per-file errors persisted for one scan.
const maxLoggedErrors = 1000

// ErrorEntry is one recorded per-file failure.
type ErrorEntry struct {
	Path       string
	Kind       ErrorKind
	Message    string
	OccurredAt time.Time
}

// errorLog collects the first limit failures of a scan and counts the rest.
type errorLog struct {
	mu      sync.Mutex
	limit   int
	entries []ErrorEntry
	dropped int
}

func newErrorLog(limit int) *errorLog {
	return &errorLog{limit: limit}
}

func (l *errorLog) record(path string, kind ErrorKind, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.limit {
		l.dropped++
		return
	}
	l.entries = append(l.entries, ErrorEntry{
		Path:       path,
		Kind:       kind,
		Message:    err.Error(),
		OccurredAt: time.Now(),
	})
}

func (l *errorLog) snapshot() ([]ErrorEntry, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ErrorEntry(nil), l.entries...), l.dropped
}

// ── DB helpers ────────────────────────────────────────────────────────────────

func insertScanRecord(db *sql.DB, startedAt time.Time, root, triggeredBy string) (int64, error) {
	now := startedAt.Unix()
	res, err := db.Exec(`
		INSERT INTO scan_history
			(root_path, started_at, status, triggered_by, created_at)
		VALUES (?, ?, 'running', ?, ?)`,
		root, now, triggeredBy, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// progressReporter writes the current progress counters to scan_history every
// second until stop is closed.
func progressReporter(ctx context.Context, db *sql.DB, scanID int64, p *Progress, stop <-chan struct{}) {
	flush := func() {
		_, err := db.ExecContext(ctx, `
			UPDATE scan_history
			SET files_discovered = ?,
			    files_processed  = ?,
			    files_hashed     = ?,
			    bytes_hashed     = ?,
			    errors           = ?
			WHERE id = ?`,
			p.FilesDiscovered.Load(),
			p.FilesProcessed.Load(),
			p.FilesHashed.Load(),
			p.BytesHashed.Load(),
			p.Errors.Load(),
			scanID)
		if err != nil && ctx.Err() == nil {
			slog.Warn("progress reporter: update failed", "error", err)
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flush()
		case <-stop:
			flush()
			return
		case <-ctx.Done():
			return
		}
	}
}

func finaliseScanRecord(db *sql.DB, scanID int64, status string, finishedAt, durationSecs int64, p *Progress, s report.ReportStatistics) error {
	var dupFiles int
	for _, paths := range s.Duplicates {
		dupFiles += len(paths)
	}
	_, err := db.Exec(`
		UPDATE scan_history
		SET status            = ?,
		    finished_at       = ?,
		    duration_seconds  = ?,
		    files_discovered  = ?,
		    files_processed   = ?,
		    files_hashed      = ?,
		    bytes_hashed      = ?,
		    total_bytes       = ?,
		    duplicate_groups  = ?,
		    duplicate_files   = ?,
		    reclaimable_bytes = ?,
		    errors            = ?
		WHERE id = ?`,
		status, finishedAt, durationSecs,
		p.FilesDiscovered.Load(),
		p.FilesProcessed.Load(),
		p.FilesHashed.Load(),
		p.BytesHashed.Load(),
		int64(s.TotalBytes),
		len(s.Duplicates), dupFiles,
		int64(s.ReclaimableBytes),
		p.Errors.Load(),
		scanID)
	return err
}

func saveScanReport(db *sql.DB, scanID int64, r report.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO scan_reports (scan_id, report_json, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET report_json = excluded.report_json`,
		scanID, string(data), time.Now().Unix())
	return err
}

func insertScanErrors(db *sql.DB, scanID int64, entries []ErrorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO scan_errors (scan_id, path, kind, error, occurred_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(scanID, e.Path, string(e.Kind), e.Message, e.OccurredAt.Unix()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadReport returns the stored report for scanID. It returns sql.ErrNoRows
// when the scan has no report (still running or failed).
func LoadReport(ctx context.Context, db *sql.DB, scanID int64) (report.Report, error) {
	var data string
	err := db.QueryRowContext(ctx,
		`SELECT report_json FROM scan_reports WHERE scan_id = ?`, scanID).Scan(&data)
	if err != nil {
		return report.Report{}, err
	}
	var r report.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return report.Report{}, fmt.Errorf("decode report %d: %w", scanID, err)
	}
	return r, nil
}
