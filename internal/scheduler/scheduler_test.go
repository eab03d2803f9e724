package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eargollo/fsaudit/internal/scan"
)

type fakeStarter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeStarter) Start(_ context.Context, root, triggeredBy string) (*scan.ActiveScan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, triggeredBy)
	if f.err != nil {
		return nil, f.err
	}
	return &scan.ActiveScan{ID: int64(len(f.calls)), RootPath: root}, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"0 2 * * 0", "@daily", "*/5 * * * *"} {
		if err := Validate(ok); err != nil {
			t.Errorf("Validate(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "every day", "61 * * * *"} {
		if err := Validate(bad); err == nil {
			t.Errorf("Validate(%q) accepted an invalid expression", bad)
		}
	}
}

func TestSetScheduleReplacesJob(t *testing.T) {
	s := New(context.Background(), &fakeStarter{})
	s.Start()
	defer s.Stop()

	if err := s.SetSchedule("0 2 * * 0"); err != nil {
		t.Fatal(err)
	}
	first := s.NextRunAt()
	if first == nil {
		t.Fatal("NextRunAt is nil after SetSchedule on a running scheduler")
	}
	if first.Weekday() != time.Sunday {
		t.Errorf("next run %v is not a Sunday", first)
	}

	if err := s.SetSchedule("not a cron"); err == nil {
		t.Error("expected error for invalid expression")
	}
	if s.CronExpr() != "0 2 * * 0" {
		t.Errorf("failed SetSchedule replaced the job: %q", s.CronExpr())
	}

	if err := s.SetSchedule("@hourly"); err != nil {
		t.Fatal(err)
	}
	if s.CronExpr() != "@hourly" {
		t.Errorf("CronExpr = %q", s.CronExpr())
	}
	if len(s.c.Entries()) != 1 {
		t.Errorf("got %d cron entries, want 1", len(s.c.Entries()))
	}
}

func TestRunScanHonoursPause(t *testing.T) {
	f := &fakeStarter{}
	s := New(context.Background(), f)

	s.SetPaused(true)
	s.runScan()
	if f.count() != 0 {
		t.Errorf("paused scheduler started %d scans", f.count())
	}

	s.SetPaused(false)
	s.runScan()
	if f.count() != 1 || f.calls[0] != TriggeredBy {
		t.Errorf("calls = %v, want one %q scan", f.calls, TriggeredBy)
	}
}

func TestRunScanToleratesBusyManager(t *testing.T) {
	f := &fakeStarter{err: scan.ErrAlreadyRunning}
	s := New(context.Background(), f)
	s.runScan()
	if f.count() != 1 {
		t.Errorf("calls = %d, want 1", f.count())
	}

	f.err = errors.New("disk on fire")
	s.runScan() // logged, never panics
}
