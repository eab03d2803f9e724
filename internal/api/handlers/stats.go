package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
)

// StatsHandler handles GET /api/stats.
type StatsHandler struct {
	DB *sql.DB
}

type statsResponse struct {
	Snapshots []statsSnapshot `json:"snapshots"`
	Totals    statsTotals     `json:"totals"`
}

// statsSnapshot is one completed scan on the trend line.
type statsSnapshot struct {
	ScanID           int64  `json:"scan_id"`
	RootPath         string `json:"root_path"`
	FinishedAt       string `json:"finished_at"`
	TotalFiles       int64  `json:"total_files"`
	TotalBytes       int64  `json:"total_bytes"`
	DuplicateGroups  int64  `json:"duplicate_groups"`
	ReclaimableBytes int64  `json:"reclaimable_bytes"`
}

type statsTotals struct {
	Scans          int64 `json:"scans"`
	CompletedScans int64 `json:"completed_scans"`
	FailedScans    int64 `json:"failed_scans"`
	CancelledScans int64 `json:"cancelled_scans"`
	FilesProcessed int64 `json:"files_processed"`
	BytesHashed    int64 `json:"bytes_hashed"`
	Errors         int64 `json:"errors"`
}

// snapshotLimit bounds the trend line to the most recent completed scans.
const snapshotLimit = 30

// ServeHTTP handles GET /api/stats.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Snapshots: []statsSnapshot{}}

	err := h.DB.QueryRowContext(r.Context(), `
		SELECT COUNT(*),
		       COALESCE(SUM(status = 'completed'), 0),
		       COALESCE(SUM(status = 'failed'), 0),
		       COALESCE(SUM(status = 'cancelled'), 0),
		       COALESCE(SUM(files_processed), 0),
		       COALESCE(SUM(bytes_hashed), 0),
		       COALESCE(SUM(errors), 0)
		FROM scan_history`,
	).Scan(&resp.Totals.Scans, &resp.Totals.CompletedScans, &resp.Totals.FailedScans,
		&resp.Totals.CancelledScans, &resp.Totals.FilesProcessed, &resp.Totals.BytesHashed,
		&resp.Totals.Errors)
	if err != nil {
		slog.Error("stats: totals", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	rows, err := h.DB.QueryContext(r.Context(), `
		SELECT id, root_path, finished_at, files_processed, total_bytes,
		       duplicate_groups, reclaimable_bytes
		FROM scan_history
		WHERE status = 'completed'
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, snapshotLimit)
	if err != nil {
		slog.Error("stats: snapshots", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s          statsSnapshot
			finishedAt int64
		)
		if err := rows.Scan(&s.ScanID, &s.RootPath, &finishedAt, &s.TotalFiles, &s.TotalBytes,
			&s.DuplicateGroups, &s.ReclaimableBytes); err != nil {
			slog.Error("stats: scan row", "error", err)
			continue
		}
		s.FinishedAt = rfc3339(finishedAt)
		resp.Snapshots = append(resp.Snapshots, s)
	}

	writeJSON(w, http.StatusOK, resp)
}
