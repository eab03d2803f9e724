// Package classify derives a MIME type and a size bucket for a file.
package classify

import (
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Unknown is the MIME type reported when a file's content cannot be sniffed.
const Unknown = "unknown/unknown"

// SizeBucket is one of five fixed byte-count ranges used for the size
// distribution.
type SizeBucket uint8

const (
	BucketUnder1KiB SizeBucket = iota
	BucketUnder1MiB
	BucketUnder10MiB
	BucketUnder100MiB
	BucketOver100MiB
)

// Buckets lists every bucket in ascending order.
var Buckets = []SizeBucket{
	BucketUnder1KiB,
	BucketUnder1MiB,
	BucketUnder10MiB,
	BucketUnder100MiB,
	BucketOver100MiB,
}

var bucketLabels = [...]string{
	BucketUnder1KiB:   "<1KiB",
	BucketUnder1MiB:   "<1MiB",
	BucketUnder10MiB:  "<10MiB",
	BucketUnder100MiB: "<100MiB",
	BucketOver100MiB:  ">=100MiB",
}

// Upper bounds are exclusive. The last one is decimal, not 100 MiB.
const (
	limit1KiB   = 1024
	limit1MiB   = 1024 * 1024
	limit10MiB  = 10 * 1024 * 1024
	limit100MiB = 100_000_000
)

// BucketFor maps a byte count onto its bucket using half-open intervals.
func BucketFor(size uint64) SizeBucket {
	switch {
	case size < limit1KiB:
		return BucketUnder1KiB
	case size < limit1MiB:
		return BucketUnder1MiB
	case size < limit10MiB:
		return BucketUnder10MiB
	case size < limit100MiB:
		return BucketUnder100MiB
	default:
		return BucketOver100MiB
	}
}

func (b SizeBucket) String() string {
	if int(b) < len(bucketLabels) {
		return bucketLabels[b]
	}
	return fmt.Sprintf("SizeBucket(%d)", uint8(b))
}

// MarshalText lets buckets serve as JSON object keys.
func (b SizeBucket) MarshalText() ([]byte, error) {
	if int(b) >= len(bucketLabels) {
		return nil, fmt.Errorf("invalid size bucket %d", uint8(b))
	}
	return []byte(bucketLabels[b]), nil
}

// UnmarshalText parses a bucket label such as "<1MiB".
func (b *SizeBucket) UnmarshalText(text []byte) error {
	for i, label := range bucketLabels {
		if label == string(text) {
			*b = SizeBucket(i)
			return nil
		}
	}
	return fmt.Errorf("unknown size bucket %q", text)
}

// DetectType sniffs the file's leading bytes and returns its MIME type
// without parameters (e.g. "text/plain", not "text/plain; charset=utf-8").
// On failure it returns Unknown together with the error so the caller can
// log it; the type is always usable.
func DetectType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Unknown, fmt.Errorf("detect type of %q: %w", path, err)
	}
	return baseType(mt), nil
}

// DetectReader is DetectType for an already opened file. It consumes up to
// the sniffing limit from r.
func DetectReader(r io.Reader) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return Unknown, err
	}
	return baseType(mt), nil
}

func baseType(mt *mimetype.MIME) string {
	typ, _, _ := strings.Cut(mt.String(), ";")
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return Unknown
	}
	return typ
}

// Classify returns the MIME type and size bucket for the file at path.
// It never fails: unreadable files are reported as Unknown.
func Classify(path string, size uint64) (string, SizeBucket) {
	typ, _ := DetectType(path)
	return typ, BucketFor(size)
}
