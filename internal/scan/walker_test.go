package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"
)

// TestDirQueueNeverLosesItems pushes 5 000 items, pops all, and verifies the
// exact set is returned (compaction must not drop entries).
func TestDirQueueNeverLosesItems(t *testing.T) {
	const n = 5000
	q := newDirQueue()

	for i := 0; i < n; i++ {
		q.pending.Add(1)
		q.Push(fmt.Sprintf("dir%04d", i))
	}

	var got []string
	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, item)
		q.Done()
	}

	if len(got) != n {
		t.Fatalf("got %d items, want %d", len(got), n)
	}
	sort.Strings(got)
	for i, v := range got {
		if want := fmt.Sprintf("dir%04d", i); v != want {
			t.Errorf("item %d: got %q, want %q", i, v, want)
		}
	}
}

// TestDirQueueCloseWakesWaiters verifies Close releases a blocked Pop.
func TestDirQueueCloseWakesWaiters(t *testing.T) {
	q := newDirQueue()
	q.pending.Add(1) // never Done: only Close can release the waiter

	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop returned an item from an empty closed queue")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Pop still blocked after Close")
	}
}

// TestWalkFindsAllFiles creates a tree of 15 files across 3 subdirs and
// verifies Walk returns all of them with their sizes.
func TestWalkFindsAllFiles(t *testing.T) {
	root := t.TempDir()
	want := map[string]struct{}{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 5; j++ {
			p := filepath.Join(root, fmt.Sprintf("sub%d", i), fmt.Sprintf("file%d.txt", j))
			writeFile(t, p, []byte("hello"))
			want[p] = struct{}{}
		}
	}

	p := &Progress{}
	out := make(chan FileInfo, 100)
	Walk(context.Background(), root, WalkOptions{Walkers: 4, Progress: p}, out, noErrors(t))

	got := drain(out)
	for path := range want {
		fi, ok := got[path]
		if !ok {
			t.Errorf("missing expected file %q", path)
			continue
		}
		if fi.Size != 5 {
			t.Errorf("%q: size %d, want 5", path, fi.Size)
		}
	}
	if len(got) != len(want) {
		t.Errorf("found %d files, want %d", len(got), len(want))
	}
	if n := p.FilesDiscovered.Load(); n != int64(len(want)) {
		t.Errorf("FilesDiscovered = %d, want %d", n, len(want))
	}
}

// TestWalkExcludesPatterns verifies doublestar excludes prune both files and
// whole directories, matched relative to the root.
func TestWalkExcludesPatterns(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep.txt")
	skipLog := filepath.Join(root, "nested", "debug.log")
	skipDir := filepath.Join(root, "node_modules", "pkg", "index.js")
	writeFile(t, keep, []byte("a"))
	writeFile(t, skipLog, []byte("b"))
	writeFile(t, skipDir, []byte("c"))

	out := make(chan FileInfo, 10)
	opts := WalkOptions{Excludes: []string{"**/*.log", "node_modules"}}
	Walk(context.Background(), root, opts, out, noErrors(t))

	got := drain(out)
	if _, ok := got[keep]; !ok {
		t.Errorf("expected file %q was not returned by Walk", keep)
	}
	for _, p := range []string{skipLog, skipDir} {
		if _, ok := got[p]; ok {
			t.Errorf("excluded file %q was returned by Walk", p)
		}
	}
}

func TestValidateExcludes(t *testing.T) {
	if err := ValidateExcludes([]string{"**/*.tmp", "build/**"}); err != nil {
		t.Errorf("valid patterns rejected: %v", err)
	}
	if err := ValidateExcludes([]string{"[unterminated"}); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

// TestWalkSkipsSymlinksByDefault verifies links are neither followed nor
// emitted unless FollowSymlinks is set.
func TestWalkSkipsSymlinksByDefault(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	root := t.TempDir()
	target := filepath.Join(root, "real", "data.txt")
	writeFile(t, target, []byte("payload"))
	if err := os.Symlink(target, filepath.Join(root, "link.txt")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "linkdir")); err != nil {
		t.Fatal(err)
	}

	out := make(chan FileInfo, 10)
	Walk(context.Background(), root, WalkOptions{}, out, noErrors(t))

	got := drain(out)
	if len(got) != 1 {
		t.Fatalf("got %d files, want only the real one: %v", len(got), got)
	}
	if _, ok := got[target]; !ok {
		t.Errorf("real file %q missing", target)
	}
}

// TestWalkSymlinkLoopTerminates builds a/b/loop -> a and checks that the walk
// finishes with each real file reported once.
func TestWalkSymlinkLoopTerminates(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	root := t.TempDir()
	file := filepath.Join(root, "a", "b", "f.txt")
	writeFile(t, file, []byte("x"))
	if err := os.Symlink(filepath.Join(root, "a"), filepath.Join(root, "a", "b", "loop")); err != nil {
		t.Fatal(err)
	}
	// A link back to the root itself must not re-enter the tree either.
	if err := os.Symlink(root, filepath.Join(root, "a", "up")); err != nil {
		t.Fatal(err)
	}

	out := make(chan FileInfo, 10)
	done := make(chan struct{})
	go func() {
		Walk(context.Background(), root, WalkOptions{Walkers: 2, FollowSymlinks: true}, out, noErrors(t))
		close(done)
	}()

	got := map[string]int{}
	for fi := range out {
		got[fi.Path]++
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Walk did not terminate on a symlink loop")
	}

	if len(got) != 1 || got[file] != 1 {
		t.Errorf("got %v, want exactly %q once", got, file)
	}
}

// TestWalkFollowsFileSymlink verifies a followed link to a file is emitted
// under the link's own path.
func TestWalkFollowsFileSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside.txt")
	writeFile(t, outside, []byte("abc"))
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	out := make(chan FileInfo, 10)
	Walk(context.Background(), root, WalkOptions{FollowSymlinks: true}, out, noErrors(t))

	got := drain(out)
	fi, ok := got[link]
	if !ok {
		t.Fatalf("followed link %q not emitted: %v", link, got)
	}
	if fi.Size != 3 {
		t.Errorf("size = %d, want size of the target (3)", fi.Size)
	}
}

// TestWalkReportsDanglingSymlink verifies a broken link is a not_found event.
func TestWalkReportsDanglingSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	root := t.TempDir()
	dangling := filepath.Join(root, "broken")
	if err := os.Symlink(filepath.Join(root, "missing"), dangling); err != nil {
		t.Fatal(err)
	}

	c := &collector{}
	out := make(chan FileInfo, 10)
	Walk(context.Background(), root, WalkOptions{FollowSymlinks: true}, out, c.report)
	drain(out)

	errs := c.all()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	if errs[0].Path != dangling || errs[0].Kind != KindNotFound {
		t.Errorf("got %+v, want not_found for %q", errs[0], dangling)
	}
	if !errors.Is(errs[0].Err, fs.ErrNotExist) {
		t.Errorf("error %v does not wrap fs.ErrNotExist", errs[0].Err)
	}
}

// TestWalkUnreadableDirectory verifies a permission failure is reported and
// the rest of the tree is still walked.
func TestWalkUnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := t.TempDir()
	ok := filepath.Join(root, "open", "a.txt")
	writeFile(t, ok, []byte("a"))
	locked := filepath.Join(root, "locked")
	writeFile(t, filepath.Join(locked, "secret.txt"), []byte("s"))
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	c := &collector{}
	out := make(chan FileInfo, 10)
	Walk(context.Background(), root, WalkOptions{}, out, c.report)

	got := drain(out)
	if _, found := got[ok]; !found || len(got) != 1 {
		t.Errorf("got %v, want only %q", got, ok)
	}
	errs := c.all()
	if len(errs) != 1 || errs[0].Path != locked || errs[0].Kind != KindAccess {
		t.Errorf("got errors %+v, want one access error for %q", errs, locked)
	}
}

// TestWalkCancellation verifies Walk returns cleanly after ctx is cancelled.
func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 200; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("d%d", i%10), fmt.Sprintf("f%d.txt", i)), []byte("data"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan FileInfo) // unbuffered: walkers block on the first send

	done := make(chan struct{})
	go func() {
		Walk(ctx, root, WalkOptions{Walkers: 3}, out, noErrors(t))
		close(done)
	}()

	<-out
	cancel()
	for range out {
	} // drain so walkers aren't blocked on sends

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Walk did not return after context cancel")
	}
}
