package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
)

// dirQueue is an unbounded, concurrency-safe queue of directory paths.
// It tracks a pending counter so that Walk() knows when all work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller must own the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
//   - Close wakes every waiter early; Walk calls it when ctx is cancelled.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	head    int // index of the next item to pop
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a directory. Must be called after incrementing pending.
func (q *dirQueue) Push(dir string) {
	q.mu.Lock()
	q.items = append(q.items, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns ("", false) when the queue is closed and empty.
func (q *dirQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return "", false
	}
	item := q.items[q.head]
	q.items[q.head] = ""
	q.head++
	// Compact once at least 1 000 items are consumed and head is past the
	// midpoint.
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Done must be called once per directory after all its child-directories have
// been pushed. Decrements pending; if pending reaches 0, closes the queue.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.Close()
	}
}

// Close marks the queue closed and wakes all blocked Pop calls.
func (q *dirQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// visitedSet remembers directories by identity so a symlink loop is entered
// at most once.
type visitedSet struct {
	mu   sync.Mutex
	seen map[dirKey]struct{}
}

// firstVisit registers the directory and reports whether it was new.
// Directories whose identity cannot be read are always visited.
func (v *visitedSet) firstVisit(path string, info fs.FileInfo) bool {
	key, ok := identify(path, info)
	if !ok {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, dup := v.seen[key]; dup {
		return false
	}
	v.seen[key] = struct{}{}
	return true
}

// WalkOptions tunes a single traversal.
type WalkOptions struct {
	// Walkers is the number of goroutines reading directories. Values below
	// 1 mean 1.
	Walkers int
	// FollowSymlinks resolves symbolic links instead of skipping them.
	FollowSymlinks bool
	// Excludes are doublestar patterns matched against the slash-separated
	// path relative to the root. A matching directory is not descended.
	Excludes []string
	// Progress, when set, has FilesDiscovered bumped for each emitted file.
	Progress *Progress
}

// ValidateExcludes checks every pattern for doublestar syntax errors.
func ValidateExcludes(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}

type walker struct {
	root     string
	opts     WalkOptions
	excludes []string
	q        *dirQueue
	visited  *visitedSet
	out      chan<- FileInfo
	report   ErrorReporter
}

// Walk traverses root concurrently and sends every regular file it finds to
// out. Walk closes out when done. Only regular files are emitted; devices,
// sockets and pipes are ignored. Filesystem errors go to report and never
// stop the walk. Walk returns early when ctx is cancelled.
func Walk(ctx context.Context, root string, opts WalkOptions, out chan<- FileInfo, report ErrorReporter) {
	defer close(out)

	if report == nil {
		report = func(string, ErrorKind, error) {}
	}
	w := &walker{
		root:    root,
		opts:    opts,
		q:       newDirQueue(),
		visited: &visitedSet{seen: make(map[dirKey]struct{})},
		out:     out,
		report:  report,
	}
	for _, p := range opts.Excludes {
		w.excludes = append(w.excludes, filepath.ToSlash(p))
	}

	info, err := os.Stat(root)
	if err != nil {
		report(root, kindOf(err), err)
		return
	}
	w.visited.firstVisit(root, info)
	w.q.pending.Add(1)
	w.q.Push(root)

	stop := context.AfterFunc(ctx, w.q.Close)
	defer stop()

	n := max(opts.Walkers, 1)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.work(ctx)
		}()
	}
	wg.Wait()
}

// work pops directories, enqueues sub-directories (incrementing pending
// first), sends files to out, then calls q.Done().
func (w *walker) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		dir, ok := w.q.Pop()
		if !ok {
			return
		}

		// ReadDir returns the entries read before a failure, so a partially
		// readable directory still contributes what it can.
		entries, err := os.ReadDir(dir)
		if err != nil {
			w.report(dir, kindOf(err), err)
		}

		for _, entry := range entries {
			if !w.visit(ctx, filepath.Join(dir, entry.Name()), entry) {
				return
			}
		}

		w.q.Done()
	}
}

// visit handles one directory entry. It returns false when ctx was cancelled
// while sending.
func (w *walker) visit(ctx context.Context, path string, entry fs.DirEntry) bool {
	if w.excluded(path) {
		return true
	}

	var (
		info fs.FileInfo
		err  error
	)
	if entry.Type()&fs.ModeSymlink != 0 {
		if !w.opts.FollowSymlinks {
			return true
		}
		// Stat follows the link; a dangling link surfaces as not_found.
		info, err = os.Stat(path)
	} else {
		if !entry.IsDir() && !entry.Type().IsRegular() {
			return true
		}
		info, err = entry.Info()
	}
	if err != nil {
		w.report(path, kindOf(err), err)
		return true
	}

	if info.IsDir() {
		if !w.visited.firstVisit(path, info) {
			slog.Debug("skipping already visited directory", "path", path)
			return true
		}
		// Increment BEFORE pushing so pending is never zero prematurely.
		w.q.pending.Add(1)
		w.q.Push(path)
		return true
	}
	if !info.Mode().IsRegular() {
		return true
	}

	select {
	case <-ctx.Done():
		return false
	case w.out <- FileInfo{Path: path, Size: info.Size(), MTime: info.ModTime()}:
		if w.opts.Progress != nil {
			w.opts.Progress.FilesDiscovered.Add(1)
		}
		return true
	}
}

func (w *walker) excluded(path string) bool {
	if len(w.excludes) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range w.excludes {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
