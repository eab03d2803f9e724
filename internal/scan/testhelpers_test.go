package scan

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	internaldb "github.com/eargollo/fsaudit/internal/db"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// noErrors is an ErrorReporter that fails the test if invoked.
func noErrors(tb testing.TB) ErrorReporter {
	return func(path string, kind ErrorKind, err error) {
		tb.Errorf("unexpected scan error: path=%q kind=%q err=%v", path, kind, err)
	}
}

// collectedError is one call to a collector's reporter.
type collectedError struct {
	Path string
	Kind ErrorKind
	Err  error
}

// collector records every reported error.
type collector struct {
	mu   sync.Mutex
	errs []collectedError
}

func (c *collector) report(path string, kind ErrorKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, collectedError{Path: path, Kind: kind, Err: err})
}

func (c *collector) all() []collectedError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]collectedError(nil), c.errs...)
}

// writeFile creates path (and its parents) with content.
func writeFile(tb testing.TB, path string, content []byte) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %q: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		tb.Fatalf("write %q: %v", path, err)
	}
}

// drain collects every FileInfo from out.
func drain(out <-chan FileInfo) map[string]FileInfo {
	got := map[string]FileInfo{}
	for fi := range out {
		got[fi.Path] = fi
	}
	return got
}

// createSyntheticTree builds a flat-ish directory tree with numFiles files.
// Every 10th file shares identical content (1 KB), creating a ~10% duplicate
// rate. Returns numFiles.
func createSyntheticTree(tb testing.TB, root string, numFiles int) int {
	tb.Helper()
	for i := 0; i < numFiles; i++ {
		subdir := filepath.Join(root, fmt.Sprintf("dir%03d", i/50))
		p := filepath.Join(subdir, fmt.Sprintf("file%04d.bin", i))
		// 1 KB content; every 10 files share the same content → duplicates.
		writeFile(tb, p, []byte(fmt.Sprintf("%-1024d", i%10)))
	}
	return numFiles
}
