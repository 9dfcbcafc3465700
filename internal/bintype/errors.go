package bintype

import "errors"

// Sentinel errors for bunpatch operations.
var (
	// ErrUnsupportedFormat is returned when the file is not a supported ELF, Mach-O or PE image.
	ErrUnsupportedFormat = errors.New("bunpatch: unsupported executable format")

	// ErrInvalidStructure is returned when the embedded payload or its container is malformed.
	ErrInvalidStructure = errors.New("bunpatch: invalid payload structure")

	// ErrNotFound is returned when a required segment, section, overlay or module is missing.
	ErrNotFound = errors.New("bunpatch: not found")

	// ErrSurgeryFailed is returned when the container cannot be resized to fit the new payload.
	ErrSurgeryFailed = errors.New("bunpatch: container resize failed")

	// ErrFileBusy is returned when the output file cannot be replaced because it is executing.
	ErrFileBusy = errors.New("bunpatch: executable is in use; stop the running process and retry")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("bunpatch: size overflow")

	// ErrDigestMismatch is returned when backup content does not match its recorded digest.
	ErrDigestMismatch = errors.New("bunpatch: digest mismatch")
)
