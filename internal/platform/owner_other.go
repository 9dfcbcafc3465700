//go:build !unix

package platform

import "io/fs"

// FileOwner reports no owner on non-Unix systems.
func FileOwner(info fs.FileInfo) (uid, gid uint32, ok bool) {
	return 0, 0, false
}
