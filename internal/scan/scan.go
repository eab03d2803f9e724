package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eargollo/fsaudit/internal/classify"
	"github.com/eargollo/fsaudit/internal/report"
)

// FileInfo is a filesystem entry emitted by the walker.
type FileInfo struct {
	Path  string
	Size  int64
	MTime time.Time
}

// Config holds pipeline tuning parameters.
type Config struct {
	Walkers        int           // directory-reading goroutines
	Processors     int           // classify + fingerprint workers
	QueueSize      int           // bounded walker → processor queue
	FollowSymlinks bool
	Excludes       []string      // doublestar patterns, root-relative
	ReadTimeout    time.Duration // per-read deadline while sniffing and hashing; 0 disables
	ChunkSize      int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Walkers:     1,
		Processors:  runtime.NumCPU(),
		QueueSize:   1000,
		ReadTimeout: 30 * time.Second,
		ChunkSize:   DefaultChunkSize,
	}
}

// Scanner runs the walk → classify → fingerprint → aggregate pipeline.
// A Scanner keeps no state between calls; each Scan is a full scan.
type Scanner struct {
	cfg  Config
	fp   *Fingerprinter
	now  func() time.Time
	open func(name string) (*os.File, error)
}

// New creates a Scanner. Zero-valued counts fall back to DefaultConfig.
func New(cfg Config) *Scanner {
	def := DefaultConfig()
	if cfg.Walkers <= 0 {
		cfg.Walkers = def.Walkers
	}
	if cfg.Processors <= 0 {
		cfg.Processors = def.Processors
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Scanner{
		cfg: cfg,
		fp:   NewFingerprinter(cfg.ChunkSize, cfg.ReadTimeout),
		now:  time.Now,
		open: os.Open,
	}
}

// ResolveRoot returns the absolute form of root after checking that it
// exists and is a directory.
func ResolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrRootNotFound, abs)
		}
		return "", fmt.Errorf("stat root %q: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootNotDir, abs)
	}
	return abs, nil
}

// Scan walks root and returns the assembled report. Per-file failures go to
// onError (which may be nil) and never abort the scan. When ctx is cancelled
// Scan returns the report built from the files processed so far together
// with ctx.Err(); every file a worker finished is part of that report.
func (s *Scanner) Scan(ctx context.Context, root string, progress *Progress, onError ErrorReporter) (report.Report, error) {
	p, err := s.start(ctx, root, progress, onError)
	if err != nil {
		return report.Report{}, err
	}

	agg := report.NewAggregator(s.now)
	err = s.runProcessors(ctx, p, func(_ context.Context, rec report.FileRecord) bool {
		agg.Submit(rec)
		return true
	})
	if err == nil {
		err = ctx.Err()
	}
	return report.Assemble(agg.Snapshot(), p.root, s.now()), err
}

// Records streams one FileRecord per regular file under root. The channel is
// closed when the walk finishes or ctx is cancelled; callers that stop
// reading early must cancel ctx. A record still in hand when ctx is
// cancelled is dropped and not counted as processed.
func (s *Scanner) Records(ctx context.Context, root string, progress *Progress, onError ErrorReporter) (<-chan report.FileRecord, error) {
	p, err := s.start(ctx, root, progress, onError)
	if err != nil {
		return nil, err
	}

	out := make(chan report.FileRecord, s.cfg.Processors)
	go func() {
		defer close(out)
		err := s.runProcessors(ctx, p, func(ctx context.Context, rec report.FileRecord) bool {
			select {
			case out <- rec:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil {
			slog.Debug("record stream stopped", "root", p.root, "error", err)
		}
	}()
	return out, nil
}

// pipeline is a running walk whose files are waiting for processors.
type pipeline struct {
	root     string
	files    <-chan FileInfo
	progress *Progress
	onError  ErrorReporter
}

// start validates the scan inputs and launches the walker.
func (s *Scanner) start(ctx context.Context, root string, progress *Progress, onError ErrorReporter) (*pipeline, error) {
	abs, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	if err := ValidateExcludes(s.cfg.Excludes); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = &Progress{}
	}

	files := make(chan FileInfo, s.cfg.QueueSize)
	p := &pipeline{
		root:     abs,
		files:    files,
		progress: progress,
		onError:  countingReporter(progress, logReporter(onError)),
	}

	go Walk(ctx, abs, WalkOptions{
		Walkers:        s.cfg.Walkers,
		FollowSymlinks: s.cfg.FollowSymlinks,
		Excludes:       s.cfg.Excludes,
		Progress:       progress,
	}, files, p.onError)

	return p, nil
}

// runProcessors drains p.files with cfg.Processors workers and hands every
// record to deliver. Cancellation is checked between files only: a worker
// that has started a file finishes it and delivers the record. deliver
// returns false when the record could not be handed over. The returned error
// is the context error when the scan was cut short.
func (s *Scanner) runProcessors(ctx context.Context, p *pipeline, deliver func(context.Context, report.FileRecord) bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Processors; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case fi, ok := <-p.files:
					if !ok {
						return nil
					}
					rec := s.process(fi, p.onError)
					if !deliver(gctx, rec) {
						return gctx.Err()
					}
					p.progress.delivered(rec)
				}
			}
		})
	}
	return g.Wait()
}

// process classifies and fingerprints one file. It never fails: a sniffing
// failure yields the unknown type and a hashing failure leaves Hash nil.
// The file is opened once and both reads go through the read deadline.
func (s *Scanner) process(fi FileInfo, onError ErrorReporter) report.FileRecord {
	rec := report.FileRecord{
		Path:     fi.Path,
		Size:     uint64(max(fi.Size, 0)),
		ModTime:  fi.MTime,
		MIMEType: classify.Unknown,
	}

	file, err := s.open(fi.Path)
	if err != nil {
		onError(fi.Path, KindClassify, fmt.Errorf("detect type of %q: %w", fi.Path, err))
		onError(fi.Path, KindHash, &FingerprintError{Path: fi.Path, Reason: reasonOf(err), Err: err})
		return rec
	}
	defer file.Close()

	rec.MIMEType, err = classify.DetectReader(s.fp.reader(file))
	if err != nil {
		// A timed-out sniff may still have a read in flight, so the file
		// is not rewound for hashing.
		onError(fi.Path, KindClassify, fmt.Errorf("detect type of %q: %w", fi.Path, err))
		onError(fi.Path, KindHash, &FingerprintError{Path: fi.Path, Reason: reasonOf(err), Err: err})
		return rec
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		onError(fi.Path, KindHash, &FingerprintError{Path: fi.Path, Reason: ReasonIO, Err: err})
		return rec
	}

	d, err := s.fp.digest(fi.Path, s.fp.reader(file))
	if err != nil {
		onError(fi.Path, KindHash, err)
		return rec
	}
	rec.Hash = &d
	return rec
}

// logReporter logs every failure at warn level before handing it to next.
func logReporter(next ErrorReporter) ErrorReporter {
	return func(path string, kind ErrorKind, err error) {
		slog.Warn("scan error", "path", path, "kind", kind, "error", err)
		if next != nil {
			next(path, kind, err)
		}
	}
}
