// Package report accumulates per-file scan results and freezes them into the
// report consumed by the JSON writer, the console summary and the HTTP API.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Digest is the SHA-256 content fingerprint of a file.
type Digest [sha256.Size]byte

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText encodes the digest as hex, so it works as a JSON object key.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a hex-encoded digest.
func (d *Digest) UnmarshalText(text []byte) error {
	if hex.DecodedLen(len(text)) != len(d) {
		return fmt.Errorf("digest %q: want %d hex characters", text, 2*len(d))
	}
	_, err := hex.Decode(d[:], text)
	return err
}

// FileRecord is one observation of a regular file during a walk.
// Hash is nil when fingerprinting failed.
type FileRecord struct {
	Path     string
	Size     uint64
	ModTime  time.Time
	MIMEType string
	Hash     *Digest
}

// LargeFile is an entry of the large-file list.
type LargeFile struct {
	Path string `json:"path"`
	Size uint64 `json:"size"`
	Type string `json:"type"`
}

// RecentFile is an entry of the recently-modified list.
type RecentFile struct {
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
	Type     string    `json:"type"`
}
