package scan

import (
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"time"

	"github.com/eargollo/fsaudit/internal/report"
)

// DefaultChunkSize is the read size used when streaming a file into the hash.
const DefaultChunkSize = 64 * 1024 // 64 KB

// Fingerprinter computes content digests by streaming files through SHA-256
// in fixed-size chunks. The digest does not depend on the chunk size.
type Fingerprinter struct {
	chunkSize   int
	readTimeout time.Duration
}

// NewFingerprinter returns a Fingerprinter. chunkSize <= 0 selects
// DefaultChunkSize; readTimeout <= 0 disables the per-read deadline.
func NewFingerprinter(chunkSize int, readTimeout time.Duration) *Fingerprinter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Fingerprinter{chunkSize: chunkSize, readTimeout: readTimeout}
}

// Fingerprint returns the SHA-256 of the file at path. Failures are always
// *FingerprintError.
func (f *Fingerprinter) Fingerprint(path string) (report.Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return report.Digest{}, &FingerprintError{Path: path, Reason: reasonOf(err), Err: err}
	}
	defer file.Close()
	return f.digest(path, f.reader(file))
}

// reader wraps r with the per-read deadline, if one is configured.
func (f *Fingerprinter) reader(r io.Reader) io.Reader {
	if f.readTimeout > 0 {
		return &timeoutReader{r: r, timeout: f.readTimeout}
	}
	return r
}

func (f *Fingerprinter) digest(path string, r io.Reader) (report.Digest, error) {
	h := sha256.New()
	buf := make([]byte, f.chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report.Digest{}, &FingerprintError{Path: path, Reason: reasonOf(err), Err: err}
		}
	}

	var d report.Digest
	h.Sum(d[:0])
	return d, nil
}

// timeoutReader bounds every Read with a deadline. Plain files ignore
// SetReadDeadline, so the read runs on its own goroutine; a read that never
// returns leaks that goroutine until the underlying call unblocks.
type timeoutReader struct {
	r       io.Reader
	timeout time.Duration
}

type readResult struct {
	n   int
	err error
}

func (t *timeoutReader) Read(p []byte) (int, error) {
	done := make(chan readResult, 1)
	go func() {
		n, err := t.r.Read(p)
		done <- readResult{n: n, err: err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, ErrReadTimeout
	}
}
