package scan

import (
	"sync/atomic"

	"github.com/eargollo/fsaudit/internal/report"
)

// Progress holds live counters updated by the pipeline stages.
// All fields are atomic so they can be written from worker goroutines and
// read from the HTTP handler or the terminal progress line without locks.
type Progress struct {
	FilesDiscovered atomic.Int64 // regular files queued by the walker
	FilesProcessed  atomic.Int64 // records delivered to the aggregator or stream
	FilesHashed     atomic.Int64
	BytesHashed     atomic.Int64
	Errors          atomic.Int64
}

// countingReporter wraps next so every reported failure also bumps
// p.Errors. A nil next only counts.
func countingReporter(p *Progress, next ErrorReporter) ErrorReporter {
	return func(path string, kind ErrorKind, err error) {
		p.Errors.Add(1)
		if next != nil {
			next(path, kind, err)
		}
	}
}

// delivered counts rec once it has reached its consumer, so the counters
// always agree with what a partial report contains.
func (p *Progress) delivered(rec report.FileRecord) {
	p.FilesProcessed.Add(1)
	if rec.Hash != nil {
		p.FilesHashed.Add(1)
		p.BytesHashed.Add(int64(rec.Size))
	}
}
