package bunpatch

import (
	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/bunfmt"
)

// Format identifies an executable container format.
type Format = bintype.Format

// Container formats.
const (
	FormatUnknown = bintype.FormatUnknown
	FormatELF     = bintype.FormatELF
	FormatMachO   = bintype.FormatMachO
	FormatPE      = bintype.FormatPE
)

// Module attribute types, re-exported for Info.
type (
	Encoding     = bunfmt.Encoding
	Loader       = bunfmt.Loader
	ModuleFormat = bunfmt.ModuleFormat
	Side         = bunfmt.Side
)
