//go:build windows

package scan

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// dirKey identifies a directory independently of the path used to reach it.
type dirKey struct {
	dev  uint64
	ino  uint64
	path string
}

// identify falls back to the canonical path; FileInfo.Sys carries no file
// index on Windows.
func identify(path string, _ fs.FileInfo) (dirKey, bool) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return dirKey{}, false
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return dirKey{}, false
	}
	return dirKey{path: strings.ToLower(abs)}, true
}
