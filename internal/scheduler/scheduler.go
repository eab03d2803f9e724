// Package scheduler triggers periodic scans of the configured root.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eargollo/fsaudit/internal/scan"
)

// Starter launches a scan; *scan.Manager satisfies it.
type Starter interface {
	Start(ctx context.Context, root, triggeredBy string) (*scan.ActiveScan, error)
}

// TriggeredBy is recorded in scan_history for scans started by the scheduler.
const TriggeredBy = "schedule"

// Scheduler wraps robfig/cron and tracks the next scheduled run.
type Scheduler struct {
	ctx     context.Context
	starter Starter

	mu       sync.RWMutex
	c        *cron.Cron
	entryID  cron.EntryID
	cronExpr string
	paused   bool
}

// New creates a stopped Scheduler whose jobs start scans through starter
// using ctx as their parent context. Call Start to activate it.
func New(ctx context.Context, starter Starter) *Scheduler {
	return &Scheduler{
		ctx:     ctx,
		starter: starter,
		c:       cron.New(),
	}
}

// Validate reports whether expr is a valid five-field cron expression or
// descriptor such as "@daily".
func Validate(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// SetSchedule replaces the scan job with one firing on expr. If the
// scheduler is already running, the new job takes effect immediately.
func (s *Scheduler) SetSchedule(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.c.AddFunc(expr, s.runScan)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	s.entryID = id
	s.cronExpr = expr
	slog.Info("scheduler: job set", "cron", expr)
	return nil
}

// SetPaused suspends or resumes scheduled scans. Manual scans are unaffected.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Paused reports whether scheduled scans are suspended.
func (s *Scheduler) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// runScan is the cron callback. A scan already in progress is not an error.
func (s *Scheduler) runScan() {
	if s.Paused() {
		slog.Info("scheduler: scan skipped, schedule paused")
		return
	}
	active, err := s.starter.Start(s.ctx, "", TriggeredBy)
	switch {
	case errors.Is(err, scan.ErrAlreadyRunning):
		slog.Info("scheduler: scan skipped, another scan is running")
	case err != nil:
		slog.Error("scheduler: start scan", "error", err)
	default:
		slog.Info("scheduler: scan started", "id", active.ID, "root", active.RootPath)
	}
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for a running callback to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// NextRunAt returns the next scheduled time, or nil if no job is set or the
// scheduler has not been started.
func (s *Scheduler) NextRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entryID == 0 {
		return nil
	}
	entry := s.c.Entry(s.entryID)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// CronExpr returns the current cron expression.
func (s *Scheduler) CronExpr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cronExpr
}
