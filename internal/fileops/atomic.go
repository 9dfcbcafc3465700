package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/bunpatch/internal/platform"
)

// tempPattern names temp files next to the target so that the final rename
// stays on one filesystem.
const tempPattern = ".bunpatch-*"

// Modes used when WriteOptions.Mode is zero.
const (
	defaultMode        fs.FileMode = 0o644
	defaultReplaceMode fs.FileMode = 0o755
)

// WriteOptions controls WriteAtomic.
type WriteOptions struct {
	// Mode is applied to the temp file before it replaces the target.
	// Zero selects 0755 when target already exists and 0644 otherwise.
	Mode fs.FileMode
	// OwnerOf names a file whose owner is copied to the output. Empty, or a
	// file that does not exist, leaves the caller as owner.
	OwnerOf string
}

// ModeOf returns the permission bits of path, or zero if it cannot be read.
func ModeOf(path string) fs.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Mode().Perm()
}

// WriteAtomic writes data to a temp file in the target's directory and
// renames it over target. The temp file is removed on any failure, so target
// is either fully replaced or left untouched.
//
// Errors caused by the target being held open by a running process wrap
// ErrFileBusy.
func WriteAtomic(target string, data []byte, opts WriteOptions) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	mode := opts.Mode
	if mode == 0 {
		mode = defaultMode
		if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
			mode = defaultReplaceMode
		}
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}

	if opts.OwnerOf != "" {
		copyOwner(tmpPath, opts.OwnerOf)
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return &fs.PathError{Op: "write", Path: target, Err: errors.New("is a directory")}
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return ReplaceError(target, err)
	}

	success = true
	return nil
}

// ReplaceError classifies a failed rename over target. Errors meaning the
// file is in use or locked against replacement wrap ErrFileBusy.
func ReplaceError(target string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %s: %v", ErrFileBusy, target, err)
	}
	return fmt.Errorf("renaming to destination: %w", err)
}

// copyOwner gives path the owner of ref. Only privileged callers can hand a
// file to another user, so a failed chown is ignored.
func copyOwner(path, ref string) {
	info, err := os.Stat(ref)
	if err != nil {
		return
	}
	uid, gid, ok := platform.FileOwner(info)
	if !ok {
		return
	}
	_ = os.Lchown(path, int(uid), int(gid)) //nolint:errcheck // best effort
}
