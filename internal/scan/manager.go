package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned when a scan is started while one is in progress.
var ErrAlreadyRunning = errors.New("a scan is already in progress")

// ErrNoActiveScan is returned when cancel is called with no scan running.
var ErrNoActiveScan = errors.New("no scan is currently running")

// ActiveScan holds live information about the running scan.
type ActiveScan struct {
	ID          int64
	RootPath    string
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// Manager enforces a single-active-scan invariant and records every scan in
// the history database. It is safe for concurrent use.
type Manager struct {
	mu   sync.Mutex
	db   *sql.DB
	root string
	cfg  Config

	active   *ActiveScan
	cancelFn context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a Manager that scans root by default.
func NewManager(db *sql.DB, root string, cfg Config) *Manager {
	return &Manager{db: db, root: root, cfg: cfg}
}

// UpdateConfig replaces the default root and cfg used for future scans.
// It does NOT affect a currently running scan.
func (m *Manager) UpdateConfig(root string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = root
	m.cfg = cfg
}

// Start launches an asynchronous scan of root, or of the configured root when
// root is empty. The root is validated before the history row is created, so
// ErrRootNotFound and ErrRootNotDir are returned synchronously.
func (m *Manager) Start(parentCtx context.Context, root, triggeredBy string) (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}
	if root == "" {
		root = m.root
	}
	if root == "" {
		return nil, fmt.Errorf("%w: no root path configured", ErrRootNotFound)
	}
	abs, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	// Create the scan_history record now so the ID is available immediately
	// in the HTTP response.
	startedAt := time.Now()
	scanID, err := insertScanRecord(m.db, startedAt, abs, triggeredBy)
	if err != nil {
		return nil, fmt.Errorf("create scan record: %w", err)
	}

	scanCtx, cancel := context.WithCancel(parentCtx)
	active := &ActiveScan{
		ID:          scanID,
		RootPath:    abs,
		StartedAt:   startedAt,
		TriggeredBy: triggeredBy,
		Progress:    &Progress{},
	}
	m.active = active
	m.cancelFn = cancel

	scanner := New(m.cfg)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		if err := m.execute(scanCtx, scanner, active); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scan run error", "id", active.ID, "error", err)
		}

		m.mu.Lock()
		m.active = nil
		m.cancelFn = nil
		m.mu.Unlock()
	}()

	snap := *active
	return &snap, nil
}

// execute runs the pipeline for an already-created scan record and stores
// its outcome. A cancelled scan still stores its partial report.
func (m *Manager) execute(ctx context.Context, scanner *Scanner, a *ActiveScan) error {
	slog.Info("scan started", "id", a.ID, "root", a.RootPath, "triggered_by", a.TriggeredBy)

	reporterStop := make(chan struct{})
	go progressReporter(ctx, m.db, a.ID, a.Progress, reporterStop)

	errs := newErrorLog(maxLoggedErrors)
	r, runErr := scanner.Scan(ctx, a.RootPath, a.Progress, errs.record)
	close(reporterStop)

	status := "completed"
	switch {
	case ctx.Err() != nil:
		status = "cancelled"
		if runErr == nil {
			runErr = ctx.Err()
		}
	case runErr != nil:
		status = "failed"
	}

	finishedAt := time.Now()
	duration := int64(finishedAt.Sub(a.StartedAt).Seconds())

	if err := finaliseScanRecord(m.db, a.ID, status, finishedAt.Unix(), duration, a.Progress, r.Statistics); err != nil {
		slog.Error("finalise scan record", "id", a.ID, "error", err)
	}
	if status != "failed" {
		if err := saveScanReport(m.db, a.ID, r); err != nil {
			slog.Error("save scan report", "id", a.ID, "error", err)
		}
	}
	entries, dropped := errs.snapshot()
	if err := insertScanErrors(m.db, a.ID, entries); err != nil {
		slog.Error("insert scan errors", "id", a.ID, "error", err)
	}
	if dropped > 0 {
		slog.Warn("scan error log truncated", "id", a.ID, "kept", len(entries), "dropped", dropped)
	}

	slog.Info("scan finished", "id", a.ID, "status", status,
		"files_discovered", a.Progress.FilesDiscovered.Load(),
		"files_hashed", a.Progress.FilesHashed.Load(),
		"errors", a.Progress.Errors.Load(),
		"duplicate_groups", len(r.Statistics.Duplicates))

	return runErr
}

// Cancel stops the currently running scan. Returns ErrNoActiveScan if idle.
func (m *Manager) Cancel() (*ActiveScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveScan
	}

	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// ActiveScan returns a snapshot of the running scan, or nil when idle.
func (m *Manager) ActiveScan() *ActiveScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// Wait blocks until every scan started by m has finished and been recorded.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// MarkStaleScansFailed marks any scan_history rows still in 'running' state
// as 'failed'. This should be called once at startup in case a previous
// server process crashed mid-scan.
func MarkStaleScansFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE scan_history
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale scans failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale scans as failed", "count", n)
	}
	return nil
}
