package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/eargollo/fsaudit/internal/config"
	"github.com/eargollo/fsaudit/internal/db"
	"github.com/eargollo/fsaudit/internal/scan"
	"github.com/eargollo/fsaudit/internal/scheduler"
)

// ConfigHandler handles GET/PATCH /api/config.
type ConfigHandler struct {
	DB      *sql.DB
	Cfg     *config.Config
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	mu      sync.Mutex // guards Cfg mutations
}

// ConfigPatch describes the fields that can be updated at runtime.
// Only supplied (non-nil) fields are applied.
type ConfigPatch struct {
	RootPath        *string          `json:"root_path"`
	ExcludePatterns []string         `json:"exclude_patterns"`
	FollowSymlinks  *bool            `json:"follow_symlinks"`
	ReadTimeout     *config.Duration `json:"read_timeout"`
	Schedule        *string          `json:"schedule"`
	ScanPaused      *bool            `json:"scan_paused"`
	ScanWorkers     *WorkerPatch     `json:"scan_workers"`
}

// WorkerPatch holds optional updates for scan worker counts.
type WorkerPatch struct {
	Walkers    *int `json:"walkers"`
	Processors *int `json:"processors"`
	QueueSize  *int `json:"queue_size"`
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.Cfg)
}

// Apply validates the whole patch against a copy of the config, then commits
// it: h.Cfg is updated, each change is persisted to the settings table, and
// the scheduler and scan manager pick up the new values. An invalid patch
// changes nothing.
func (h *ConfigHandler) Apply(_ context.Context, patch ConfigPatch) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := *h.Cfg
	settings := map[string]string{}

	if patch.RootPath != nil {
		next.RootPath = *patch.RootPath
		settings[config.KeyRootPath] = *patch.RootPath
	}
	if patch.ExcludePatterns != nil {
		next.ExcludePatterns = patch.ExcludePatterns
		b, err := json.Marshal(patch.ExcludePatterns)
		if err != nil {
			return err
		}
		settings[config.KeyExcludePatterns] = string(b)
	}
	if patch.FollowSymlinks != nil {
		next.FollowSymlinks = *patch.FollowSymlinks
		settings[config.KeyFollowSymlinks] = strconv.FormatBool(*patch.FollowSymlinks)
	}
	if patch.ReadTimeout != nil {
		d := *patch.ReadTimeout
		next.ReadTimeout = &d
		text, _ := d.MarshalText()
		settings[config.KeyReadTimeout] = string(text)
	}
	if patch.Schedule != nil {
		if err := scheduler.Validate(*patch.Schedule); err != nil {
			return err
		}
		next.Schedule = *patch.Schedule
		settings[config.KeySchedule] = *patch.Schedule
	}
	if patch.ScanPaused != nil {
		next.ScanPaused = *patch.ScanPaused
		settings[config.KeyScanPaused] = strconv.FormatBool(*patch.ScanPaused)
	}
	if wp := patch.ScanWorkers; wp != nil {
		for key, v := range map[string]*int{
			config.KeyWalkers:    wp.Walkers,
			config.KeyProcessors: wp.Processors,
			config.KeyQueueSize:  wp.QueueSize,
		} {
			if v == nil {
				continue
			}
			if *v < 1 {
				return fmt.Errorf("%s must be at least 1", key)
			}
			settings[key] = strconv.Itoa(*v)
		}
		if wp.Walkers != nil {
			next.ScanWorkers.Walkers = *wp.Walkers
		}
		if wp.Processors != nil {
			next.ScanWorkers.Processors = *wp.Processors
		}
		if wp.QueueSize != nil {
			next.ScanWorkers.QueueSize = *wp.QueueSize
		}
	}

	if err := next.Validate(); err != nil {
		return err
	}

	if h.Sched != nil {
		if next.Schedule != h.Cfg.Schedule {
			if err := h.Sched.SetSchedule(next.Schedule); err != nil {
				return err
			}
		}
		h.Sched.SetPaused(next.ScanPaused)
	}

	*h.Cfg = next
	for key, val := range settings {
		if err := db.SaveSetting(h.DB, key, val); err != nil {
			slog.Error("config: persist setting", "key", key, "error", err)
		}
	}

	if h.Manager != nil {
		h.Manager.UpdateConfig(next.RootPath, next.ScanConfig())
	}
	return nil
}

// Update handles PATCH /api/config.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	if err := h.Apply(r.Context(), patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.Cfg)
}
