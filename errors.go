package bunpatch

import "github.com/meigma/bunpatch/internal/bintype"

// Errors re-exported from the internal packages.
var (
	// ErrUnsupportedFormat is returned when a file is not a thin ELF, Mach-O or PE executable.
	ErrUnsupportedFormat = bintype.ErrUnsupportedFormat

	// ErrInvalidStructure is returned when the container or payload layout is malformed.
	ErrInvalidStructure = bintype.ErrInvalidStructure

	// ErrNotFound is returned when the payload, its section, the entrypoint
	// module or a backup does not exist.
	ErrNotFound = bintype.ErrNotFound

	// ErrSurgeryFailed is returned when the new payload cannot be fitted into the container.
	ErrSurgeryFailed = bintype.ErrSurgeryFailed

	// ErrFileBusy is returned when the output is held open by a running process.
	ErrFileBusy = bintype.ErrFileBusy

	// ErrSizeOverflow is returned when a rebuilt payload exceeds 32-bit offsets.
	ErrSizeOverflow = bintype.ErrSizeOverflow

	// ErrDigestMismatch is returned when a backup image fails verification.
	ErrDigestMismatch = bintype.ErrDigestMismatch
)
