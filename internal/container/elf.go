package container

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/bunfmt"
)

const (
	// elfTotalSize is the trailing u64 Bun appends after the ELF payload.
	elfTotalSize = 8
	// elfMinTotal is the smallest payload total accepted in an ELF overlay.
	elfMinTotal = 4096
)

// ELFFile is an ELF executable whose payload lives in the overlay after the
// last byte described by its headers.
type ELFFile struct {
	data    []byte
	extent  uint64
	payload []byte
	logger  *slog.Logger
}

func openELF(data []byte, logger *slog.Logger) (*ELFFile, error) {
	extent, err := ELFExtent(data)
	if err != nil {
		return nil, err
	}
	f := &ELFFile{data: data, extent: extent, logger: logger}
	if f.payload, err = f.resolve(); err != nil {
		return nil, err
	}
	return f, nil
}

// Extent returns the end of the natively described contents.
func (f *ELFFile) Extent() uint64 {
	return f.extent
}

// Overlay returns the bytes that follow the described contents.
func (f *ELFFile) Overlay() []byte {
	return f.data[f.extent:]
}

// ELFExtent computes the end offset of everything the ELF headers describe:
// the file header, program and section header tables, the file-backed
// sections and the file ranges of all segments.
func ELFExtent(data []byte) (uint64, error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", bintype.ErrInvalidStructure, err)
	}
	defer ef.Close()

	var extent uint64
	grow := func(end uint64) {
		extent = max(extent, end)
	}

	switch ef.Class {
	case elf.ELFCLASS64:
		var hdr elf.Header64
		if err := binary.Read(bytes.NewReader(data), ef.ByteOrder, &hdr); err != nil {
			return 0, fmt.Errorf("%w: read ELF header: %v", bintype.ErrInvalidStructure, err)
		}
		grow(uint64(hdr.Ehsize))
		grow(hdr.Phoff + uint64(hdr.Phentsize)*uint64(hdr.Phnum))
		if hdr.Shoff != 0 {
			grow(hdr.Shoff + uint64(hdr.Shentsize)*uint64(hdr.Shnum))
		}
	case elf.ELFCLASS32:
		var hdr elf.Header32
		if err := binary.Read(bytes.NewReader(data), ef.ByteOrder, &hdr); err != nil {
			return 0, fmt.Errorf("%w: read ELF header: %v", bintype.ErrInvalidStructure, err)
		}
		grow(uint64(hdr.Ehsize))
		grow(uint64(hdr.Phoff) + uint64(hdr.Phentsize)*uint64(hdr.Phnum))
		if hdr.Shoff != 0 {
			grow(uint64(hdr.Shoff) + uint64(hdr.Shentsize)*uint64(hdr.Shnum))
		}
	default:
		return 0, fmt.Errorf("%w: ELF class %v", bintype.ErrUnsupportedFormat, ef.Class)
	}

	for _, s := range ef.Sections {
		if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL {
			continue
		}
		grow(s.Offset + s.FileSize)
	}
	for _, p := range ef.Progs {
		grow(p.Off + p.Filesz)
	}

	if extent > uint64(len(data)) {
		return 0, fmt.Errorf("%w: ELF contents end at %d beyond file size %d",
			bintype.ErrInvalidStructure, extent, len(data))
	}
	return extent, nil
}

// resolve locates the payload inside the overlay, which Bun lays out as
// [data][offsets][trailer][u64 total]. The header's ByteCount is
// authoritative; the trailing total is only a sanity bound.
func (f *ELFFile) resolve() ([]byte, error) {
	overlay := f.Overlay()
	if len(overlay) == 0 {
		return nil, fmt.Errorf("%w: ELF overlay", bintype.ErrNotFound)
	}
	const tail = bunfmt.OffsetsSize + bunfmt.TrailerSize + elfTotalSize
	if len(overlay) < tail {
		return nil, fmt.Errorf("%w: ELF overlay of %d bytes is too small",
			bintype.ErrInvalidStructure, len(overlay))
	}

	trailerStart := len(overlay) - elfTotalSize - bunfmt.TrailerSize
	if !bytes.Equal(overlay[trailerStart:trailerStart+bunfmt.TrailerSize], bunfmt.Trailer) {
		return nil, fmt.Errorf("%w: ELF overlay does not end with a Bun trailer", bintype.ErrInvalidStructure)
	}

	total := binary.LittleEndian.Uint64(overlay[len(overlay)-elfTotalSize:])
	offsetsStart := trailerStart - bunfmt.OffsetsSize
	offsets := bunfmt.ReadOffsets(overlay[offsetsStart:])
	byteCount := offsets.ByteCount

	if total < elfMinTotal || total >= math.MaxUint32 {
		return nil, fmt.Errorf("%w: ELF payload total %d out of range",
			bintype.ErrInvalidStructure, total)
	}
	if byteCount >= math.MaxUint32 {
		return nil, fmt.Errorf("%w: ELF payload byte count %d out of range",
			bintype.ErrInvalidStructure, byteCount)
	}
	if byteCount >= total {
		return nil, fmt.Errorf("%w: ELF payload byte count %d exceeds recorded total %d",
			bintype.ErrInvalidStructure, byteCount, total)
	}
	if byteCount > uint64(offsetsStart) {
		return nil, fmt.Errorf("%w: ELF payload byte count %d exceeds overlay",
			bintype.ErrInvalidStructure, byteCount)
	}
	if total != byteCount+bunfmt.OffsetsSize+bunfmt.TrailerSize {
		f.logger.Debug("ELF trailing total disagrees with payload header",
			slog.Uint64("total", total),
			slog.Uint64("byte_count", byteCount))
	}

	start := offsetsStart - int(byteCount) //nolint:gosec // bounded by offsetsStart above
	return overlay[start : len(overlay)-elfTotalSize], nil
}

// Replace returns the described contents followed by payload and its length.
func (f *ELFFile) Replace(payload []byte) []byte {
	out := make([]byte, 0, f.extent+uint64(len(payload))+elfTotalSize)
	out = append(out, f.data[:f.extent]...)
	out = append(out, payload...)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(payload)))
	f.data, f.payload = out, out[f.extent:len(out)-elfTotalSize]
	return out
}
