package container

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/sizing"
)

// PESectionName is the section holding the payload in Windows builds.
const PESectionName = ".bun"

const (
	coffHeaderSize    = 20
	peSectionHdrSize  = 40
	optMagicPE32      = 0x10b
	optMagicPE32Plus  = 0x20b
	dirEntrySecurity  = 4
	dataDirEntrySize  = 8
	optSectionAlign   = 32
	optFileAlign      = 36
	optSizeOfImage    = 56
	optCheckSum       = 64
	optNumDirsPE32    = 92
	optNumDirsPE32Pls = 108
)

// PEFile is a Windows PE image.
type PEFile struct {
	data       []byte
	optOff     int
	optSize    int
	numDirsOff int
	dirsOff    int
	tableOff   int
	nsects     int
	headerSize int
	payload    []byte
	logger     *slog.Logger
}

// PESection is a decoded section table entry.
type PESection struct {
	Name           string
	VirtualSize    uint32
	VirtualAddress uint32
	SizeOfRawData  uint32
	PointerToRaw   uint32

	hdr int
}

func openPE(data []byte, logger *slog.Logger) (*PEFile, error) {
	peOff := int(binary.LittleEndian.Uint32(data[0x3c:]))
	coff := peOff + 4
	if coff+coffHeaderSize > len(data) {
		return nil, fmt.Errorf("%w: COFF header truncated", bintype.ErrInvalidStructure)
	}
	f := &PEFile{
		data:    data,
		nsects:  int(binary.LittleEndian.Uint16(data[coff+2:])),
		optSize: int(binary.LittleEndian.Uint16(data[coff+16:])),
		optOff:  coff + coffHeaderSize,
		logger:  logger,
	}
	f.tableOff = f.optOff + f.optSize
	if f.optSize < optNumDirsPE32Pls+4 || f.tableOff+f.nsects*peSectionHdrSize > len(data) {
		return nil, fmt.Errorf("%w: PE headers truncated", bintype.ErrInvalidStructure)
	}
	switch magic := binary.LittleEndian.Uint16(data[f.optOff:]); magic {
	case optMagicPE32:
		f.numDirsOff = f.optOff + optNumDirsPE32
	case optMagicPE32Plus:
		f.numDirsOff = f.optOff + optNumDirsPE32Pls
	default:
		return nil, fmt.Errorf("%w: optional header magic %#x", bintype.ErrInvalidStructure, magic)
	}
	f.dirsOff = f.numDirsOff + 4

	sect, err := f.Section(PESectionName)
	if err != nil {
		return nil, err
	}
	if !sizing.Fits(uint64(sect.PointerToRaw), uint64(sect.SizeOfRawData), len(data)) {
		return nil, fmt.Errorf("%w: section %s extends beyond file", bintype.ErrInvalidStructure, PESectionName)
	}
	content := data[sect.PointerToRaw : sect.PointerToRaw+sect.SizeOfRawData]
	if f.headerSize, f.payload, err = DetectSectionHeader(content); err != nil {
		return nil, err
	}
	logger.Debug("resolved PE payload",
		slog.Int("header_size", f.headerSize),
		slog.Int("payload_size", len(f.payload)))
	return f, nil
}

func (f *PEFile) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(f.data[off:])
}

func (f *PEFile) putU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(f.data[off:], v)
}

// Sections returns the section table in file order.
func (f *PEFile) Sections() []PESection {
	out := make([]PESection, f.nsects)
	for i := range out {
		h := f.tableOff + i*peSectionHdrSize
		out[i] = PESection{
			Name:           cstring(f.data[h : h+8]),
			VirtualSize:    f.u32(h + 8),
			VirtualAddress: f.u32(h + 12),
			SizeOfRawData:  f.u32(h + 16),
			PointerToRaw:   f.u32(h + 20),
			hdr:            h,
		}
	}
	return out
}

// Section returns the section with the given name.
func (f *PEFile) Section(name string) (PESection, error) {
	for _, s := range f.Sections() {
		if s.Name == name {
			return s, nil
		}
	}
	return PESection{}, fmt.Errorf("%w: PE section %s", bintype.ErrNotFound, name)
}

func (f *PEFile) writeSection(s PESection) {
	f.putU32(s.hdr+8, s.VirtualSize)
	f.putU32(s.hdr+12, s.VirtualAddress)
	f.putU32(s.hdr+16, s.SizeOfRawData)
	f.putU32(s.hdr+20, s.PointerToRaw)
}

func (f *PEFile) dataDirectory(index int) (int, bool) {
	if index >= int(f.u32(f.numDirsOff)) {
		return 0, false
	}
	off := f.dirsOff + index*dataDirEntrySize
	if off+dataDirEntrySize > f.optOff+f.optSize {
		return 0, false
	}
	return off, true
}

// Replace writes payload into the .bun section. VirtualSize and SizeOfRawData
// both take the new content length; the raw data is padded to FileAlignment
// and later sections move with it. The checksum is cleared and any
// Authenticode certificate is dropped because both describe the old image.
func (f *PEFile) Replace(payload []byte) ([]byte, error) {
	sect, err := f.Section(PESectionName)
	if err != nil {
		return nil, err
	}
	content := BuildSectionData(payload, f.headerSize)
	size, err := sizing.ToUint32(len(content), bintype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	fileAlign := uint64(f.u32(f.optOff + optFileAlign))
	sectAlign := uint64(f.u32(f.optOff + optSectionAlign))
	sections := f.Sections()

	vend := uint64(sect.VirtualAddress) + sizing.AlignUp(uint64(size), sectAlign)
	for _, s := range sections {
		if s.VirtualAddress > sect.VirtualAddress && vend > uint64(s.VirtualAddress) {
			return nil, fmt.Errorf("%w: %s of %d bytes would overlap section %s at %#x",
				bintype.ErrSurgeryFailed, PESectionName, size, s.Name, s.VirtualAddress)
		}
	}

	oldStart := uint64(sect.PointerToRaw)
	oldEnd := oldStart + uint64(sect.SizeOfRawData)
	padded := sizing.AlignUp(uint64(size), fileAlign)
	rawDelta := int64(padded) - int64(sect.SizeOfRawData) //nolint:gosec // both fit in uint32

	tail := f.data[oldEnd:]
	if dir, ok := f.dataDirectory(dirEntrySecurity); ok {
		certOff, certSize := uint64(f.u32(dir)), uint64(f.u32(dir+4))
		if certSize != 0 {
			if certOff >= oldEnd && sizing.Fits(certOff, certSize, len(f.data)) {
				tail = slices.Concat(f.data[oldEnd:certOff], f.data[certOff+certSize:])
			}
			f.putU32(dir, 0)
			f.putU32(dir+4, 0)
			f.logger.Info("dropped Authenticode signature; binary must be re-signed")
		}
	}

	for _, s := range sections {
		if s.hdr == sect.hdr || uint64(s.PointerToRaw) < oldEnd || s.SizeOfRawData == 0 {
			continue
		}
		moved := int64(s.PointerToRaw) + rawDelta
		if moved < 0 || moved > int64(^uint32(0)) {
			return nil, fmt.Errorf("%w: section %s raw offset overflows", bintype.ErrSurgeryFailed, s.Name)
		}
		s.PointerToRaw = uint32(moved) //nolint:gosec // checked above
		f.writeSection(s)
	}

	sect.VirtualSize = size
	sect.SizeOfRawData = size
	f.writeSection(sect)

	var imageEnd uint64
	for _, s := range f.Sections() {
		imageEnd = max(imageEnd, uint64(s.VirtualAddress)+uint64(max(s.VirtualSize, s.SizeOfRawData)))
	}
	sizeOfImage, err := sizing.ToUint32(int(sizing.AlignUp(imageEnd, sectAlign)), bintype.ErrSizeOverflow) //nolint:gosec // bounded by uint32 fields
	if err != nil {
		return nil, err
	}
	f.putU32(f.optOff+optSizeOfImage, sizeOfImage)
	f.putU32(f.optOff+optCheckSum, 0)

	out := make([]byte, 0, oldStart+padded+uint64(len(tail)))
	out = append(out, f.data[:oldStart]...)
	out = append(out, content...)
	out = append(out, make([]byte, padded-uint64(size))...)
	out = append(out, tail...)

	f.data = out
	f.payload = out[oldStart+uint64(f.headerSize) : oldStart+uint64(size)]
	return out, nil
}
