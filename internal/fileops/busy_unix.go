//go:build unix

package fileops

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isBusy reports whether err means the target is executing, mounted or
// protected against replacement.
func isBusy(err error) bool {
	return errors.Is(err, unix.ETXTBSY) ||
		errors.Is(err, unix.EBUSY) ||
		errors.Is(err, unix.EPERM)
}
