package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/sizing"
)

// Names of the Mach-O segment and section holding the payload.
const (
	MachOSegment = "__BUN"
	MachOSection = "__bun"
)

const (
	machHeaderSize  = 32
	segmentCmdSize  = 72
	sectionSize     = 80
	linkeditSegment = "__LINKEDIT"

	pageSize      = 0x1000
	pageSizeArm64 = 0x4000
)

// MachOFile is a thin 64-bit little-endian Mach-O executable.
type MachOFile struct {
	data       []byte
	cpu        types.CPU
	signed     bool
	headerSize int
	payload    []byte
	logger     *slog.Logger
}

type loadCommand struct {
	off  int
	cmd  types.LoadCmd
	size int
}

type segment struct {
	off      int
	name     string
	vmaddr   uint64
	vmsize   uint64
	fileoff  uint64
	filesize uint64
	nsects   int
}

type section struct {
	off    int
	name   string
	addr   uint64
	size   uint64
	offset uint32
	reloff uint32
}

// openMachO resolves the payload section and header facts through go-macho.
// In-place edits use the raw load-command walker below.
func openMachO(data []byte, logger *slog.Logger) (*MachOFile, error) {
	if len(data) < machHeaderSize {
		return nil, fmt.Errorf("%w: Mach-O header truncated", bintype.ErrInvalidStructure)
	}
	mf, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: parse Mach-O: %v", bintype.ErrInvalidStructure, err)
	}
	defer mf.Close()

	if mf.Segment(MachOSegment) == nil {
		return nil, fmt.Errorf("%w: Mach-O segment %s", bintype.ErrNotFound, MachOSegment)
	}
	sect := mf.Section(MachOSegment, MachOSection)
	if sect == nil {
		return nil, fmt.Errorf("%w: Mach-O section %s,%s", bintype.ErrNotFound, MachOSegment, MachOSection)
	}
	if !sizing.Fits(uint64(sect.Offset), sect.Size, len(data)) {
		return nil, fmt.Errorf("%w: section %s extends beyond file", bintype.ErrInvalidStructure, MachOSection)
	}

	f := &MachOFile{
		data:   data,
		cpu:    mf.CPU,
		signed: mf.CodeSignature() != nil,
		logger: logger,
	}
	content := data[sect.Offset : uint64(sect.Offset)+sect.Size]
	if f.headerSize, f.payload, err = DetectSectionHeader(content); err != nil {
		return nil, err
	}
	logger.Debug("resolved Mach-O payload",
		slog.Any("cpu", mf.CPU),
		slog.Bool("signed", f.signed),
		slog.Int("header_size", f.headerSize),
		slog.Int("payload_size", len(f.payload)))
	return f, nil
}

// Signed reports whether the image carries an LC_CODE_SIGNATURE command.
func (f *MachOFile) Signed() bool {
	return f.signed
}

// PageSize returns the segment alignment for the binary's CPU type.
func (f *MachOFile) PageSize() uint64 {
	if f.cpu == types.CPUArm64 {
		return pageSizeArm64
	}
	return pageSize
}

// Bytes returns the current image.
func (f *MachOFile) Bytes() []byte {
	return f.data
}

func (f *MachOFile) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(f.data[off:])
}

func (f *MachOFile) putU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(f.data[off:], v)
}

func (f *MachOFile) u64(off int) uint64 {
	return binary.LittleEndian.Uint64(f.data[off:])
}

func (f *MachOFile) putU64(off int, v uint64) {
	binary.LittleEndian.PutUint64(f.data[off:], v)
}

func (f *MachOFile) commands() ([]loadCommand, error) {
	ncmds := int(f.u32(16))
	end := machHeaderSize + int(f.u32(20))
	if end > len(f.data) {
		return nil, fmt.Errorf("%w: Mach-O load commands exceed file", bintype.ErrInvalidStructure)
	}
	cmds := make([]loadCommand, 0, ncmds)
	off := machHeaderSize
	for i := range ncmds {
		if off+8 > end {
			return nil, fmt.Errorf("%w: Mach-O load command %d truncated", bintype.ErrInvalidStructure, i)
		}
		size := int(f.u32(off + 4))
		if size < 8 || off+size > end {
			return nil, fmt.Errorf("%w: Mach-O load command %d has size %d", bintype.ErrInvalidStructure, i, size)
		}
		cmds = append(cmds, loadCommand{off: off, cmd: types.LoadCmd(f.u32(off)), size: size})
		off += size
	}
	return cmds, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (f *MachOFile) segments() ([]segment, error) {
	cmds, err := f.commands()
	if err != nil {
		return nil, err
	}
	var segs []segment
	for _, c := range cmds {
		if c.cmd != types.LC_SEGMENT_64 {
			continue
		}
		if c.size < segmentCmdSize {
			return nil, fmt.Errorf("%w: segment command too small", bintype.ErrInvalidStructure)
		}
		s := segment{
			off:      c.off,
			name:     cstring(f.data[c.off+8 : c.off+24]),
			vmaddr:   f.u64(c.off + 24),
			vmsize:   f.u64(c.off + 32),
			fileoff:  f.u64(c.off + 40),
			filesize: f.u64(c.off + 48),
			nsects:   int(f.u32(c.off + 64)),
		}
		if segmentCmdSize+s.nsects*sectionSize > c.size {
			return nil, fmt.Errorf("%w: segment %s section table truncated", bintype.ErrInvalidStructure, s.name)
		}
		segs = append(segs, s)
	}
	return segs, nil
}

func (f *MachOFile) segment(name string) (segment, error) {
	segs, err := f.segments()
	if err != nil {
		return segment{}, err
	}
	for _, s := range segs {
		if s.name == name {
			return s, nil
		}
	}
	return segment{}, fmt.Errorf("%w: Mach-O segment %s", bintype.ErrNotFound, name)
}

func (f *MachOFile) writeSegment(s segment) {
	f.putU64(s.off+24, s.vmaddr)
	f.putU64(s.off+32, s.vmsize)
	f.putU64(s.off+40, s.fileoff)
	f.putU64(s.off+48, s.filesize)
}

func (f *MachOFile) sections(seg segment) []section {
	out := make([]section, seg.nsects)
	for i := range out {
		off := seg.off + segmentCmdSize + i*sectionSize
		out[i] = section{
			off:    off,
			name:   cstring(f.data[off : off+16]),
			addr:   f.u64(off + 32),
			size:   f.u64(off + 40),
			offset: f.u32(off + 48),
			reloff: f.u32(off + 56),
		}
	}
	return out
}

func (f *MachOFile) writeSection(s section) {
	f.putU64(s.off+32, s.addr)
	f.putU64(s.off+40, s.size)
	f.putU32(s.off+48, s.offset)
	f.putU32(s.off+56, s.reloff)
}

func (f *MachOFile) bunSection() (segment, section, error) {
	seg, err := f.segment(MachOSegment)
	if err != nil {
		return segment{}, section{}, err
	}
	for _, s := range f.sections(seg) {
		if s.name == MachOSection {
			return seg, s, nil
		}
	}
	return segment{}, section{}, fmt.Errorf("%w: Mach-O section %s,%s", bintype.ErrNotFound, MachOSegment, MachOSection)
}

// RemoveSignature drops the LC_CODE_SIGNATURE command and, when the
// signature is the tail of __LINKEDIT, the signature bytes themselves.
// It reports whether a signature was present.
func (f *MachOFile) RemoveSignature() (bool, error) {
	if !f.signed {
		return false, nil
	}
	cmds, err := f.commands()
	if err != nil {
		return false, err
	}
	idx := slices.IndexFunc(cmds, func(c loadCommand) bool { return c.cmd == types.LC_CODE_SIGNATURE })
	if idx < 0 {
		f.signed = false
		return false, nil
	}
	sig := cmds[idx]
	dataoff := uint64(f.u32(sig.off + 8))
	sigEnd := dataoff + uint64(f.u32(sig.off+12))
	if sigEnd > uint64(len(f.data)) {
		return false, fmt.Errorf("%w: code signature extends beyond file", bintype.ErrInvalidStructure)
	}

	if link, err := f.segment(linkeditSegment); err == nil && sigEnd == link.fileoff+link.filesize {
		link.filesize = dataoff - link.fileoff
		link.vmsize = sizing.AlignUp(link.filesize, f.PageSize())
		f.writeSegment(link)
		if sigEnd == uint64(len(f.data)) {
			f.data = f.data[:dataoff]
		}
	}

	end := machHeaderSize + int(f.u32(20))
	copy(f.data[sig.off:end], f.data[sig.off+sig.size:end])
	clear(f.data[end-sig.size : end])
	f.putU32(16, f.u32(16)-1)
	f.putU32(20, f.u32(20)-uint32(sig.size)) //nolint:gosec // bounded by sizeofcmds

	f.signed = false
	f.logger.Debug("removed Mach-O code signature", slog.Uint64("size", sigEnd-dataoff))
	return true, nil
}

// linkeditOffsets lists the byte positions, relative to a load command, of
// file offsets that point into __LINKEDIT.
var linkeditOffsets = map[types.LoadCmd][]int{
	types.LC_SYMTAB:                   {8, 16},
	types.LC_DYSYMTAB:                 {32, 40, 48, 56, 64, 72},
	types.LC_DYLD_INFO:                {8, 16, 24, 32, 40},
	types.LC_DYLD_INFO_ONLY:           {8, 16, 24, 32, 40},
	types.LC_CODE_SIGNATURE:           {8},
	types.LC_SEGMENT_SPLIT_INFO:       {8},
	types.LC_FUNCTION_STARTS:          {8},
	types.LC_DATA_IN_CODE:             {8},
	types.LC_DYLIB_CODE_SIGN_DRS:      {8},
	types.LC_LINKER_OPTIMIZATION_HINT: {8},
	types.LC_DYLD_EXPORTS_TRIE:        {8},
	types.LC_DYLD_CHAINED_FIXUPS:      {8},
	types.LC_ENCRYPTION_INFO_64:       {8},
}

// ExtendSegment grows the named segment by delta bytes at its end. Segments
// located after it in the file or in memory move by delta, together with
// their sections and every __LINKEDIT offset recorded in the load commands.
func (f *MachOFile) ExtendSegment(name string, delta uint64) error {
	if delta == 0 {
		return nil
	}
	segs, err := f.segments()
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(segs, func(s segment) bool { return s.name == name })
	if idx < 0 {
		return fmt.Errorf("%w: Mach-O segment %s", bintype.ErrNotFound, name)
	}
	target := segs[idx]
	insert := target.fileoff + target.filesize
	vmEnd := target.vmaddr + target.vmsize
	if insert > uint64(len(f.data)) {
		return fmt.Errorf("%w: segment %s extends beyond file", bintype.ErrInvalidStructure, name)
	}

	shift32 := func(pos int) error {
		v := uint64(f.u32(pos))
		if v == 0 || v < insert {
			return nil
		}
		if v+delta > math.MaxUint32 {
			return fmt.Errorf("%w: offset %d overflows after growing %s by %d",
				bintype.ErrSurgeryFailed, v, name, delta)
		}
		f.putU32(pos, uint32(v+delta)) //nolint:gosec // checked above
		return nil
	}

	for i, s := range segs {
		if i == idx {
			continue
		}
		if s.fileoff >= insert && s.filesize > 0 {
			s.fileoff += delta
		}
		if s.vmaddr >= vmEnd && s.vmsize > 0 {
			s.vmaddr += delta
		}
		f.writeSegment(s)
		for _, sect := range f.sections(s) {
			if sect.addr >= vmEnd {
				sect.addr += delta
			}
			f.writeSection(sect)
			if err := shift32(sect.off + 48); err != nil {
				return err
			}
			if err := shift32(sect.off + 56); err != nil {
				return err
			}
		}
	}

	cmds, err := f.commands()
	if err != nil {
		return err
	}
	for _, c := range cmds {
		for _, rel := range linkeditOffsets[c.cmd] {
			if rel+4 > c.size {
				continue
			}
			if err := shift32(c.off + rel); err != nil {
				return err
			}
		}
	}

	target.filesize += delta
	target.vmsize += delta
	f.writeSegment(target)

	f.data = slices.Insert(f.data, int(insert), make([]byte, delta)...) //nolint:gosec // insert <= len(data)
	f.logger.Debug("extended Mach-O segment",
		slog.String("segment", name),
		slog.Uint64("delta", delta))
	return nil
}

// Replace writes payload into the __BUN,__bun section. Any code signature is
// removed first; the image must be re-signed before it will run on macOS.
func (f *MachOFile) Replace(payload []byte) ([]byte, error) {
	removed, err := f.RemoveSignature()
	if err != nil {
		return nil, err
	}
	if removed {
		f.logger.Info("removed code signature; binary must be re-signed")
	}

	_, sect, err := f.bunSection()
	if err != nil {
		return nil, err
	}
	content := BuildSectionData(payload, f.headerSize)
	newSize := uint64(len(content))
	oldSize := sect.size

	if newSize > oldSize {
		grow := sizing.AlignUp(newSize-oldSize, f.PageSize())
		if err := f.ExtendSegment(MachOSegment, grow); err != nil {
			return nil, err
		}
	}

	seg, sect, err := f.bunSection()
	if err != nil {
		return nil, err
	}
	start := uint64(sect.offset)
	end := start + newSize
	if end > seg.fileoff+seg.filesize {
		return nil, fmt.Errorf("%w: section %s does not fit in segment %s",
			bintype.ErrSurgeryFailed, MachOSection, MachOSegment)
	}
	for _, other := range f.sections(seg) {
		if other.off == sect.off || other.size == 0 {
			continue
		}
		if o := uint64(other.offset); o >= start && o < end {
			return nil, fmt.Errorf("%w: section %s would overlap %s",
				bintype.ErrSurgeryFailed, MachOSection, other.name)
		}
	}

	copy(f.data[start:end], content)
	if oldSize > newSize {
		clear(f.data[end : start+oldSize])
	}
	sect.size = newSize
	f.writeSection(sect)
	f.payload = f.data[start+uint64(f.headerSize) : end]
	return f.data, nil
}
