//go:build !windows

package scan

import (
	"io/fs"
	"syscall"
)

// dirKey identifies a directory independently of the path used to reach it.
type dirKey struct {
	dev  uint64
	ino  uint64
	path string
}

// identify returns the (device, inode) pair for info. ok is false when the
// platform stat data is unavailable.
func identify(_ string, info fs.FileInfo) (dirKey, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return dirKey{}, false
	}
	return dirKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
}
