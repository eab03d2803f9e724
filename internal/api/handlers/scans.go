package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eargollo/fsaudit/internal/scan"
)

// ScansHandler handles scan-related API endpoints.
type ScansHandler struct {
	DB      *sql.DB
	Manager *scan.Manager
	// BaseCtx parents every scan started over HTTP so that server shutdown
	// cancels it. Nil means context.Background().
	BaseCtx context.Context
}

type createScanRequest struct {
	RootPath string `json:"root_path"`
}

// Create handles POST /api/scans. It triggers a manual scan. The body is
// optional; {"root_path": "..."} overrides the configured root.
func (h *ScansHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	ctx := h.BaseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	active, err := h.Manager.Start(ctx, req.RootPath, "manual")
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "SCAN_ALREADY_RUNNING", "A scan is already in progress")
		case errors.Is(err, scan.ErrRootNotFound), errors.Is(err, scan.ErrRootNotDir):
			writeError(w, http.StatusBadRequest, "INVALID_ROOT", err.Error())
		default:
			slog.Error("scans: start", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start scan")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":           active.ID,
		"status":       "running",
		"root_path":    active.RootPath,
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// Cancel handles DELETE /api/scans/current.
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveScan) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SCAN", "No scan is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          snap.ID,
		"status":      "cancelled",
		"started_at":  snap.StartedAt.UTC().Format(time.RFC3339),
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// scanItem is one scan_history row.
type scanItem struct {
	ID               int64   `json:"id"`
	RootPath         string  `json:"root_path"`
	StartedAt        string  `json:"started_at"`
	FinishedAt       *string `json:"finished_at"`
	Status           string  `json:"status"`
	TriggeredBy      string  `json:"triggered_by"`
	FilesDiscovered  int64   `json:"files_discovered"`
	FilesProcessed   int64   `json:"files_processed"`
	FilesHashed      int64   `json:"files_hashed"`
	BytesHashed      int64   `json:"bytes_hashed"`
	TotalBytes       int64   `json:"total_bytes"`
	DuplicateGroups  int64   `json:"duplicate_groups"`
	DuplicateFiles   int64   `json:"duplicate_files"`
	ReclaimableBytes int64   `json:"reclaimable_bytes"`
	Errors           int64   `json:"errors"`
	DurationSeconds  *int64  `json:"duration_seconds"`
}

const scanColumns = `
	id, root_path, started_at, finished_at, status, triggered_by,
	files_discovered, files_processed, files_hashed, bytes_hashed, total_bytes,
	duplicate_groups, duplicate_files, reclaimable_bytes,
	errors, duration_seconds`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItemFrom(row rowScanner) (scanItem, error) {
	var (
		it         scanItem
		startedAt  int64
		finishedAt sql.NullInt64
		durSecs    sql.NullInt64
	)
	err := row.Scan(
		&it.ID, &it.RootPath, &startedAt, &finishedAt, &it.Status, &it.TriggeredBy,
		&it.FilesDiscovered, &it.FilesProcessed, &it.FilesHashed, &it.BytesHashed, &it.TotalBytes,
		&it.DuplicateGroups, &it.DuplicateFiles, &it.ReclaimableBytes,
		&it.Errors, &durSecs,
	)
	if err != nil {
		return scanItem{}, err
	}
	it.StartedAt = rfc3339(startedAt)
	it.FinishedAt = nullableRFC3339(finishedAt)
	if durSecs.Valid {
		it.DurationSeconds = &durSecs.Int64
	}
	return it, nil
}

// List handles GET /api/scans. It returns scan history newest first.
func (h *ScansHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	rows, err := h.DB.QueryContext(r.Context(), `
		SELECT`+scanColumns+`
		FROM scan_history
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		slog.Error("scans list: query", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	defer rows.Close()

	items := []scanItem{}
	for rows.Next() {
		it, err := scanItemFrom(rows)
		if err != nil {
			slog.Error("scans list: scan row", "error", err)
			continue
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		slog.Error("scans list: rows", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	var total int
	if err := h.DB.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM scan_history`).Scan(&total); err != nil {
		slog.Error("scans list: count", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListResponse[scanItem]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /api/scans/:id, including the recorded per-file errors.
func (h *ScansHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	type errItem struct {
		Path       string `json:"path"`
		Kind       string `json:"kind"`
		Error      string `json:"error"`
		OccurredAt string `json:"occurred_at"`
	}
	type scanDetail struct {
		scanItem
		ErrorList []errItem `json:"error_list"`
	}

	it, err := scanItemFrom(h.DB.QueryRowContext(r.Context(),
		`SELECT`+scanColumns+` FROM scan_history WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Scan not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	d := scanDetail{scanItem: it, ErrorList: []errItem{}}

	errRows, err := h.DB.QueryContext(r.Context(), `
		SELECT path, kind, error, occurred_at
		FROM scan_errors WHERE scan_id = ?
		ORDER BY id`, id)
	if err != nil {
		slog.Error("scans get: query errors", "id", id, "error", err)
	} else {
		defer errRows.Close()
		for errRows.Next() {
			var e errItem
			var occAt int64
			if errRows.Scan(&e.Path, &e.Kind, &e.Error, &occAt) == nil {
				e.OccurredAt = rfc3339(occAt)
				d.ErrorList = append(d.ErrorList, e)
			}
		}
	}

	writeJSON(w, http.StatusOK, d)
}

// Report handles GET /api/scans/:id/report. It returns the stored analysis
// report in the same shape as analysis_report.json.
func (h *ScansHandler) Report(w http.ResponseWriter, r *http.Request) {
	id, ok := scanID(w, r)
	if !ok {
		return
	}

	rep, err := scan.LoadReport(r.Context(), h.DB, id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "REPORT_NOT_AVAILABLE", "No report stored for this scan")
		return
	}
	if err != nil {
		slog.Error("scans report: load", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func scanID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid scan ID")
		return 0, false
	}
	return id, true
}
