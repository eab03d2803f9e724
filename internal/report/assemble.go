package report

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/eargollo/fsaudit/internal/classify"
)

// TopN is the number of entries kept in the large-file and recent-file lists.
const TopN = 10

// Report is the immutable result of a scan.
type Report struct {
	Timestamp  time.Time        `json:"timestamp"`
	RootPath   string           `json:"rootPath"`
	Statistics ReportStatistics `json:"statistics"`
}

// ReportStatistics is the truncated, duplicate-filtered view of Statistics.
type ReportStatistics struct {
	FileTypes        map[string]int64              `json:"fileTypes"`
	SizeDistribution map[classify.SizeBucket]int64 `json:"sizeDistribution"`
	LargeFiles       []LargeFile                   `json:"largeFiles"`
	RecentFiles      []RecentFile                  `json:"recentFiles"`
	Duplicates       map[string][]string           `json:"duplicates"`
	TotalFiles       int64                         `json:"totalFiles"`
	TotalBytes       uint64                        `json:"totalBytes"`
	UnhashedFiles    int64                         `json:"unhashedFiles"`
	ReclaimableBytes uint64                        `json:"reclaimableBytes"`
}

// Assemble builds a Report from stats. It performs no I/O and does not
// modify stats.
func Assemble(stats Statistics, rootPath string, generatedAt time.Time) Report {
	large := slices.Clone(stats.LargeFiles)
	slices.SortStableFunc(large, func(a, b LargeFile) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})

	recent := slices.Clone(stats.RecentFiles)
	slices.SortStableFunc(recent, func(a, b RecentFile) int {
		if c := b.Modified.Compare(a.Modified); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})

	dups := make(map[string][]string)
	var reclaimable uint64
	for h, g := range stats.Duplicates {
		if len(g.Paths) < 2 {
			continue
		}
		dups[h.String()] = slices.Clone(g.Paths)
		reclaimable += g.Size * uint64(len(g.Paths)-1)
	}

	fileTypes := maps.Clone(stats.FileTypes)
	if fileTypes == nil {
		fileTypes = map[string]int64{}
	}
	sizes := maps.Clone(stats.SizeDistribution)
	if sizes == nil {
		sizes = map[classify.SizeBucket]int64{}
	}

	return Report{
		Timestamp: generatedAt,
		RootPath:  rootPath,
		Statistics: ReportStatistics{
			FileTypes:        fileTypes,
			SizeDistribution: sizes,
			LargeFiles:       truncate(large, TopN),
			RecentFiles:      truncate(recent, TopN),
			Duplicates:       dups,
			TotalFiles:       stats.TotalFiles,
			TotalBytes:       stats.TotalBytes,
			UnhashedFiles:    stats.UnhashedFiles,
			ReclaimableBytes: reclaimable,
		},
	}
}

// truncate keeps the first n entries and never returns nil, so empty lists
// serialise as [] rather than null.
func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[:n]
	}
	if s == nil {
		return []T{}
	}
	return s
}
