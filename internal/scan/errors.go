package scan

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrRootNotFound is returned when the scan root does not exist.
var ErrRootNotFound = errors.New("scan root does not exist")

// ErrRootNotDir is returned when the scan root is not a directory.
var ErrRootNotDir = errors.New("scan root is not a directory")

// ErrReadTimeout is reported when a single read exceeds Config.ReadTimeout.
var ErrReadTimeout = errors.New("read timed out")

// ErrorKind classifies a per-file failure. None of them stop a scan.
type ErrorKind string

const (
	KindAccess   ErrorKind = "access"           // permission denied on a file or directory
	KindNotFound ErrorKind = "not_found"        // entry vanished between listing and use
	KindHash     ErrorKind = "hash_failure"     // fingerprint could not be computed
	KindClassify ErrorKind = "classify_failure" // content type could not be sniffed
	KindWalk     ErrorKind = "walk"             // any other directory or metadata failure
)

// ErrorReporter records a per-file failure. Implementations must be safe for
// concurrent use; they are called from walker and processor goroutines.
type ErrorReporter func(path string, kind ErrorKind, err error)

// Reason explains why a fingerprint failed.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonNotFound         Reason = "not-found"
	ReasonIO               Reason = "io-error"
)

// FingerprintError is returned by Fingerprinter.Fingerprint.
type FingerprintError struct {
	Path   string
	Reason Reason
	Err    error
}

func (e *FingerprintError) Error() string {
	return fmt.Sprintf("fingerprint %q: %s: %v", e.Path, e.Reason, e.Err)
}

func (e *FingerprintError) Unwrap() error { return e.Err }

func reasonOf(err error) Reason {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return ReasonNotFound
	default:
		return ReasonIO
	}
}

// kindOf maps a filesystem error onto the walk taxonomy.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return KindAccess
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	default:
		return KindWalk
	}
}
