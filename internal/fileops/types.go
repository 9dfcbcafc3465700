// Package fileops writes patched executables to disk and encodes the
// compressed images kept as backups.
package fileops

import "github.com/meigma/bunpatch/internal/bintype"

// Re-export sentinel errors.
var (
	ErrFileBusy       = bintype.ErrFileBusy
	ErrDigestMismatch = bintype.ErrDigestMismatch
	ErrSizeOverflow   = bintype.ErrSizeOverflow
)
