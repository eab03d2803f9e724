package report

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/eargollo/fsaudit/internal/classify"
)

const (
	// LargeFileThreshold is the size a file must exceed to be listed as large.
	LargeFileThreshold = 100_000_000
	// RecentWindow is how far back a modification counts as recent.
	RecentWindow = 7 * 24 * time.Hour
)

// HashGroup holds every path seen with one content hash, in submission order.
type HashGroup struct {
	Size  uint64
	Paths []string
}

// Statistics is a point-in-time copy of the aggregate scan state.
type Statistics struct {
	FileTypes        map[string]int64
	SizeDistribution map[classify.SizeBucket]int64
	LargeFiles       []LargeFile
	RecentFiles      []RecentFile
	Duplicates       map[Digest]HashGroup
	TotalFiles       int64
	TotalBytes       uint64
	UnhashedFiles    int64
}

// Aggregator accumulates FileRecords submitted by scan workers.
// Its state is reachable only through Submit and Snapshot. It is safe for
// concurrent use.
type Aggregator struct {
	now func() time.Time

	mu        sync.Mutex
	fileTypes map[string]int64
	sizes     map[classify.SizeBucket]int64
	large     []LargeFile
	recent    []RecentFile
	groups    map[Digest]*HashGroup
	files     int64
	bytes     uint64
	unhashed  int64
}

// NewAggregator creates an empty Aggregator. now is consulted once per
// submission to decide whether a file is recent; nil means time.Now.
func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		now:       now,
		fileTypes: make(map[string]int64),
		sizes:     make(map[classify.SizeBucket]int64),
		groups:    make(map[Digest]*HashGroup),
	}
}

// Submit folds one record into the statistics. All effects of a record are
// applied under a single lock acquisition.
func (a *Aggregator) Submit(rec FileRecord) {
	recent := a.now().Sub(rec.ModTime) <= RecentWindow
	bucket := classify.BucketFor(rec.Size)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.files++
	a.bytes += rec.Size
	a.fileTypes[rec.MIMEType]++
	a.sizes[bucket]++

	if rec.Size > LargeFileThreshold {
		a.large = append(a.large, LargeFile{Path: rec.Path, Size: rec.Size, Type: rec.MIMEType})
	}
	if recent {
		a.recent = append(a.recent, RecentFile{Path: rec.Path, Modified: rec.ModTime, Type: rec.MIMEType})
	}

	if rec.Hash == nil {
		a.unhashed++
		return
	}
	g, ok := a.groups[*rec.Hash]
	if !ok {
		g = &HashGroup{Size: rec.Size}
		a.groups[*rec.Hash] = g
	}
	g.Paths = append(g.Paths, rec.Path)
}

// Snapshot returns a deep copy of the current statistics. Submissions made
// after Snapshot returns do not affect the copy.
func (a *Aggregator) Snapshot() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	dups := make(map[Digest]HashGroup, len(a.groups))
	for h, g := range a.groups {
		dups[h] = HashGroup{Size: g.Size, Paths: slices.Clone(g.Paths)}
	}

	return Statistics{
		FileTypes:        maps.Clone(a.fileTypes),
		SizeDistribution: maps.Clone(a.sizes),
		LargeFiles:       slices.Clone(a.large),
		RecentFiles:      slices.Clone(a.recent),
		Duplicates:       dups,
		TotalFiles:       a.files,
		TotalBytes:       a.bytes,
		UnhashedFiles:    a.unhashed,
	}
}
