package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/fsaudit/internal/scan"
	"github.com/eargollo/fsaudit/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	DB      *sql.DB
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	Version string
}

type statusResponse struct {
	Version           string             `json:"version"`
	ActiveScan        *activeScanInfo    `json:"active_scan"`
	Schedule          scheduleInfo       `json:"schedule"`
	LastCompletedScan *completedScanInfo `json:"last_completed_scan"`
}

type activeScanInfo struct {
	ID          int64            `json:"id"`
	RootPath    string           `json:"root_path"`
	StartedAt   time.Time        `json:"started_at"`
	TriggeredBy string           `json:"triggered_by"`
	Progress    scanProgressInfo `json:"progress"`
}

type scanProgressInfo struct {
	FilesDiscovered int64 `json:"files_discovered"`
	FilesProcessed  int64 `json:"files_processed"`
	FilesHashed     int64 `json:"files_hashed"`
	BytesHashed     int64 `json:"bytes_hashed"`
	Errors          int64 `json:"errors"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	Paused    bool       `json:"paused"`
	NextRunAt *time.Time `json:"next_run_at"`
}

type completedScanInfo struct {
	ID               int64     `json:"id"`
	RootPath         string    `json:"root_path"`
	FinishedAt       time.Time `json:"finished_at"`
	FilesProcessed   int64     `json:"files_processed"`
	DuplicateGroups  int64     `json:"duplicate_groups"`
	DuplicateFiles   int64     `json:"duplicate_files"`
	ReclaimableBytes int64     `json:"reclaimable_bytes"`
}

// ServeHTTP returns the system status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:           h.Version,
		ActiveScan:        h.activeScan(),
		LastCompletedScan: h.lastCompletedScan(r),
	}
	if h.Sched != nil {
		resp.Schedule = scheduleInfo{
			Cron:      h.Sched.CronExpr(),
			Paused:    h.Sched.Paused(),
			NextRunAt: h.Sched.NextRunAt(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// activeScan reads live counters straight from the manager.
func (h *StatusHandler) activeScan() *activeScanInfo {
	if h.Manager == nil {
		return nil
	}
	a := h.Manager.ActiveScan()
	if a == nil {
		return nil
	}
	return &activeScanInfo{
		ID:          a.ID,
		RootPath:    a.RootPath,
		StartedAt:   a.StartedAt.UTC(),
		TriggeredBy: a.TriggeredBy,
		Progress: scanProgressInfo{
			FilesDiscovered: a.Progress.FilesDiscovered.Load(),
			FilesProcessed:  a.Progress.FilesProcessed.Load(),
			FilesHashed:     a.Progress.FilesHashed.Load(),
			BytesHashed:     a.Progress.BytesHashed.Load(),
			Errors:          a.Progress.Errors.Load(),
		},
	}
}

func (h *StatusHandler) lastCompletedScan(r *http.Request) *completedScanInfo {
	if h.DB == nil {
		return nil
	}
	row := h.DB.QueryRowContext(r.Context(), `
		SELECT id, root_path, finished_at, files_processed,
		       duplicate_groups, duplicate_files, reclaimable_bytes
		FROM scan_history
		WHERE status = 'completed'
		ORDER BY finished_at DESC, id DESC
		LIMIT 1`)

	var (
		info       completedScanInfo
		finishedAt int64
	)
	err := row.Scan(&info.ID, &info.RootPath, &finishedAt, &info.FilesProcessed,
		&info.DuplicateGroups, &info.DuplicateFiles, &info.ReclaimableBytes)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("status: query last scan", "error", err)
		}
		return nil
	}
	info.FinishedAt = time.Unix(finishedAt, 0).UTC()
	return &info
}
