// Package container locates the Bun payload inside ELF, Mach-O and PE
// executables and writes a replacement payload back with the structural edits
// each format requires.
//
// A [Binary] is a tagged variant: exactly one of its format handles is set.
// Handles own the file image passed to [Open] and edit it in place, so a
// Binary is good for a single replacement.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/blacktop/go-macho/types"

	"github.com/meigma/bunpatch/internal/bintype"
)

// Binary is an opened executable.
type Binary struct {
	Format bintype.Format
	ELF    *ELFFile
	MachO  *MachOFile
	PE     *PEFile
}

// Option configures Open.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for container diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Detect identifies the container format from the leading bytes of an image.
func Detect(data []byte) bintype.Format {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("\x7fELF")):
		return bintype.FormatELF
	case len(data) >= 4 && types.Magic(binary.LittleEndian.Uint32(data)) == types.Magic64:
		return bintype.FormatMachO
	case len(data) >= 0x40 && data[0] == 'M' && data[1] == 'Z':
		off := int(binary.LittleEndian.Uint32(data[0x3c:]))
		if off > 0 && off+4 <= len(data) && bytes.Equal(data[off:off+4], []byte("PE\x00\x00")) {
			return bintype.FormatPE
		}
	}
	return bintype.FormatUnknown
}

// Open detects the format of data and resolves the embedded payload.
// The returned Binary retains data and edits it in place on Replace.
func Open(data []byte, opts ...Option) (*Binary, error) {
	cfg := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	format := Detect(data)
	cfg.logger.Debug("detected container format", slog.String("format", format.String()))

	b := &Binary{Format: format}
	var err error
	switch format {
	case bintype.FormatELF:
		b.ELF, err = openELF(data, cfg.logger)
	case bintype.FormatMachO:
		b.MachO, err = openMachO(data, cfg.logger)
	case bintype.FormatPE:
		b.PE, err = openPE(data, cfg.logger)
	default:
		return nil, unsupported(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", format, err)
	}
	return b, nil
}

func unsupported(data []byte) error {
	if len(data) >= 4 {
		magic := types.Magic(binary.BigEndian.Uint32(data))
		if magic == types.MagicFat {
			return fmt.Errorf("%w: universal Mach-O binaries are not supported; extract a single architecture first",
				bintype.ErrUnsupportedFormat)
		}
		return fmt.Errorf("%w: magic %x", bintype.ErrUnsupportedFormat, data[:4])
	}
	return fmt.Errorf("%w: file of %d bytes", bintype.ErrUnsupportedFormat, len(data))
}

// Payload returns the raw Bun payload ([data][offsets][trailer]).
// The result aliases the image and is invalidated by Replace.
func (b *Binary) Payload() []byte {
	switch b.Format {
	case bintype.FormatELF:
		return b.ELF.payload
	case bintype.FormatMachO:
		return b.MachO.payload
	case bintype.FormatPE:
		return b.PE.payload
	default:
		return nil
	}
}

// SectionHeaderSize returns the width of the section length prefix (4 or 8)
// for Mach-O and PE, and 0 for ELF.
func (b *Binary) SectionHeaderSize() int {
	switch b.Format {
	case bintype.FormatMachO:
		return b.MachO.headerSize
	case bintype.FormatPE:
		return b.PE.headerSize
	default:
		return 0
	}
}

// Replace embeds payload in place of the current one and returns the new image.
func (b *Binary) Replace(payload []byte) ([]byte, error) {
	switch b.Format {
	case bintype.FormatELF:
		return b.ELF.Replace(payload), nil
	case bintype.FormatMachO:
		return b.MachO.Replace(payload)
	case bintype.FormatPE:
		return b.PE.Replace(payload)
	default:
		return nil, fmt.Errorf("%w: %s", bintype.ErrUnsupportedFormat, b.Format)
	}
}
