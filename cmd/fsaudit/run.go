package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/eargollo/fsaudit/internal/api"
	"github.com/eargollo/fsaudit/internal/config"
	"github.com/eargollo/fsaudit/internal/db"
	"github.com/eargollo/fsaudit/internal/report"
	"github.com/eargollo/fsaudit/internal/scan"
	"github.com/eargollo/fsaudit/internal/scheduler"
)

const progressInterval = 200 * time.Millisecond

// runOnce scans cfg.RootPath, saves the report and prints it. An interrupted
// scan still saves and prints what was gathered before returning an error.
func runOnce(ctx context.Context, cfg *config.Config, format string) error {
	slog.Info("fsaudit starting",
		"version", version,
		"root", cfg.RootPath,
		"processors", cfg.ScanWorkers.Processors,
		"follow_symlinks", cfg.FollowSymlinks)

	scanner := scan.New(cfg.ScanConfig())
	progress := &scan.Progress{}

	stopProgress := showProgress(progress)
	start := time.Now()
	r, scanErr := scanner.Scan(ctx, cfg.RootPath, progress, nil)
	stopProgress()

	if scanErr != nil && !errors.Is(scanErr, context.Canceled) {
		return scanErr
	}
	if scanErr != nil {
		slog.Warn("scan interrupted, saving partial report")
	}

	path, err := report.Save(cfg.OutputDir, r)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		if err := report.WriteJSON(os.Stdout, r); err != nil {
			return err
		}
	default:
		if err := report.PrintTable(os.Stdout, r); err != nil {
			return err
		}
		if err := report.PrintSummary(os.Stdout, r); err != nil {
			return err
		}
	}

	slog.Info("scan finished",
		"files", progress.FilesProcessed.Load(),
		"hashed", humanize.IBytes(uint64(progress.BytesHashed.Load())),
		"errors", progress.Errors.Load(),
		"duration", time.Since(start).Round(time.Millisecond),
		"report", path)

	if scanErr != nil {
		return fmt.Errorf("scan interrupted: %w", scanErr)
	}
	return nil
}

// showProgress redraws a one-line counter on stderr while a scan runs. It is
// a no-op when stderr is not a terminal. The returned func stops the display
// and clears the line.
func showProgress(p *scan.Progress) func() {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()

		fmt.Fprint(os.Stderr, "\033[?25l")
		defer fmt.Fprint(os.Stderr, "\r\033[2K\033[?25h")

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\r\033[2KScanning: %s found, %s processed, %s hashed, %s errors",
					humanize.Comma(p.FilesDiscovered.Load()),
					humanize.Comma(p.FilesProcessed.Load()),
					humanize.IBytes(uint64(p.BytesHashed.Load())),
					humanize.Comma(p.Errors.Load()))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// serve runs the scan manager, the cron scheduler and the HTTP API until ctx
// is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("fsaudit starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"root", cfg.RootPath)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	if settings, err := db.LoadSettings(database); err == nil {
		config.MergeDBSettings(cfg, settings)
	} else {
		slog.Warn("load stored settings", "error", err)
	}

	// Scans left 'running' by a previous process can never finish.
	if err := scan.MarkStaleScansFailed(database); err != nil {
		slog.Warn("mark stale scans", "error", err)
	}

	mgr := scan.NewManager(database, cfg.RootPath, cfg.ScanConfig())
	defer mgr.Wait()

	sched := scheduler.New(ctx, mgr)
	if cfg.Schedule != "" {
		if err := sched.SetSchedule(cfg.Schedule); err != nil {
			slog.Warn("invalid cron expression", "expr", cfg.Schedule, "error", err)
		}
	}
	sched.SetPaused(cfg.ScanPaused)
	sched.Start()
	defer sched.Stop()

	srv := api.New(ctx, cfg.HTTPAddr, database, cfg, mgr, sched, version)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("fsaudit stopped")
	return nil
}
