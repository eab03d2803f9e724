package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eargollo/fsaudit/internal/classify"
)

// FileName is the name of the report written by Save.
const FileName = "analysis_report.json"

// tabSpacing is the number of spaces between tabwriter columns.
const tabSpacing = 2

// WriteJSON encodes r as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return err
	}
	return nil
}

// Save writes r to dir/analysis_report.json, creating dir if needed, and
// returns the file path.
func Save(dir string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report %q: %w", path, err)
	}
	if err := WriteJSON(f, r); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report %q: %w", path, err)
	}
	return path, nil
}

// PrintTable writes a human-readable rendering of r.
//
//nolint:errcheck // tabwriter errors surface on Flush.
func PrintTable(w io.Writer, r Report) error {
	s := r.Statistics
	tw := tabwriter.NewWriter(w, 0, 4, tabSpacing, ' ', 0)

	fmt.Fprintf(tw, "\nRoot:\t%s\n", r.RootPath)
	fmt.Fprintf(tw, "Generated:\t%s\n", r.Timestamp.Format(time.RFC3339))

	fmt.Fprintln(tw, "\nFile types:\t\t")
	types := make([]string, 0, len(s.FileTypes))
	for t := range s.FileTypes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if s.FileTypes[types[i]] != s.FileTypes[types[j]] {
			return s.FileTypes[types[i]] > s.FileTypes[types[j]]
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", t, s.FileTypes[t], percent(s.FileTypes[t], s.TotalFiles))
	}

	fmt.Fprintln(tw, "\nSize distribution:\t\t")
	for _, b := range classify.Buckets {
		n := s.SizeDistribution[b]
		fmt.Fprintf(tw, "  %s\t%d\t%s\n", b, n, percent(n, s.TotalFiles))
	}

	if len(s.LargeFiles) > 0 {
		fmt.Fprintln(tw, "\nLargest files:\t\t")
		for i, f := range s.LargeFiles {
			fmt.Fprintf(tw, "  %d) '%s'\t%s\t%s\n", i+1, f.Path, humanize.IBytes(f.Size), f.Type)
		}
	}

	if len(s.RecentFiles) > 0 {
		fmt.Fprintln(tw, "\nRecently modified:\t\t")
		for i, f := range s.RecentFiles {
			fmt.Fprintf(tw, "  %d) '%s'\t%s\t%s\n", i+1, f.Path, humanize.Time(f.Modified), f.Type)
		}
	}

	if len(s.Duplicates) > 0 {
		fmt.Fprintln(tw, "\nDuplicate groups:\t\t")
		hashes := make([]string, 0, len(s.Duplicates))
		for h := range s.Duplicates {
			hashes = append(hashes, h)
		}
		slices.Sort(hashes)
		for _, h := range hashes {
			short := h
			if len(short) > 12 {
				short = short[:12]
			}
			fmt.Fprintf(tw, "  %s\t%d copies\t\n", short, len(s.Duplicates[h]))
			for _, p := range s.Duplicates[h] {
				fmt.Fprintf(tw, "    '%s'\t\t\n", p)
			}
		}
	}

	fmt.Fprintln(tw, "\nStats:\t\t")
	fmt.Fprintf(tw, "Total files:\t%d\n", s.TotalFiles)
	fmt.Fprintf(tw, "Total size:\t%s (%d bytes)\n", humanize.IBytes(s.TotalBytes), s.TotalBytes)
	fmt.Fprintf(tw, "Unhashed files:\t%d\n", s.UnhashedFiles)
	fmt.Fprintf(tw, "Reclaimable:\t%s\n", humanize.IBytes(s.ReclaimableBytes))

	return tw.Flush()
}

// PrintSummary writes the short closing summary shown after a scan.
func PrintSummary(w io.Writer, r Report) error {
	s := r.Statistics
	_, err := fmt.Fprintf(w,
		"\nQuick Summary:\nTotal file types found: %d\nLarge files (>100MB): %d\nRecent files (7 days): %d\nDuplicate file groups: %d\n",
		len(s.FileTypes), len(s.LargeFiles), len(s.RecentFiles), len(s.Duplicates))
	return err
}

func percent(part, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(part)/float64(total))
}
