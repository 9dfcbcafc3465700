//go:build unix

// Package platform isolates operating-system specific file metadata.
package platform

import (
	"io/fs"
	"syscall"
)

// FileOwner returns the UID and GID recorded in info.
func FileOwner(info fs.FileInfo) (uid, gid uint32, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return st.Uid, st.Gid, true
}
