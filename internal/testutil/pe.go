package testutil

import (
	"encoding/binary"
	"testing"
)

// PE fixture constants.
const (
	PESectionAlignment = 0x1000
	PEFileAlignment    = 0x200
	peLfanew           = 0x40
	peOptHeaderSize    = 240
)

// PESection describes a section of a PE fixture.
type PESection struct {
	Name string
	Data []byte
	// VirtualAddress overrides the default placement, which packs sections on
	// consecutive SectionAlignment boundaries.
	VirtualAddress uint32
}

// BuildPE returns a minimal PE32+ (x86-64) image with the given sections laid
// out after the headers. Trailing is appended after the last section.
func BuildPE(tb testing.TB, sections []PESection, trailing []byte) []byte {
	tb.Helper()

	le := binary.LittleEndian
	headersEnd := peLfanew + 4 + 20 + peOptHeaderSize + 40*len(sections)
	sizeOfHeaders := alignUp(uint64(headersEnd), PEFileAlignment)

	type placed struct {
		rawOff, rawSize, va, vs uint32
	}
	layout := make([]placed, len(sections))
	rawOff := uint32(sizeOfHeaders) //nolint:gosec // fixture offsets are small
	va := uint32(PESectionAlignment)
	for i, s := range sections {
		if s.VirtualAddress != 0 {
			va = s.VirtualAddress
		}
		vs := uint32(len(s.Data))                                       //nolint:gosec // fixture sizes are small
		rawSize := uint32(alignUp(uint64(len(s.Data)), PEFileAlignment)) //nolint:gosec // fixture sizes are small
		layout[i] = placed{rawOff: rawOff, rawSize: rawSize, va: va, vs: vs}
		rawOff += rawSize
		va += uint32(alignUp(uint64(vs), PESectionAlignment)) //nolint:gosec // fixture sizes are small
	}
	last := layout[len(layout)-1]
	sizeOfImage := alignUp(uint64(last.va)+uint64(last.vs), PESectionAlignment)

	buf := make([]byte, rawOff)
	buf[0], buf[1] = 'M', 'Z'
	le.PutUint32(buf[0x3c:], peLfanew)
	copy(buf[peLfanew:], "PE\x00\x00")

	coff := buf[peLfanew+4:]
	le.PutUint16(coff[0:], 0x8664)
	le.PutUint16(coff[2:], uint16(len(sections))) //nolint:gosec // fixture counts are small
	le.PutUint16(coff[16:], peOptHeaderSize)
	le.PutUint16(coff[18:], 0x22)

	opt := coff[20:]
	le.PutUint16(opt[0:], 0x20b)
	le.PutUint32(opt[16:], layout[0].va) // AddressOfEntryPoint
	le.PutUint64(opt[24:], 0x140000000)  // ImageBase
	le.PutUint32(opt[32:], PESectionAlignment)
	le.PutUint32(opt[36:], PEFileAlignment)
	le.PutUint16(opt[40:], 6) // MajorOperatingSystemVersion
	le.PutUint16(opt[48:], 6) // MajorSubsystemVersion
	le.PutUint32(opt[56:], uint32(sizeOfImage))   //nolint:gosec // fixture sizes are small
	le.PutUint32(opt[60:], uint32(sizeOfHeaders)) //nolint:gosec // fixture sizes are small
	le.PutUint32(opt[64:], 0xdeadbeef)            // CheckSum
	le.PutUint16(opt[68:], 3)                     // IMAGE_SUBSYSTEM_WINDOWS_CUI
	le.PutUint32(opt[108:], 16)                   // NumberOfRvaAndSizes

	table := opt[peOptHeaderSize:]
	for i, s := range sections {
		h := table[40*i:]
		copy(h[0:8], s.Name)
		p := layout[i]
		le.PutUint32(h[8:], p.vs)
		le.PutUint32(h[12:], p.va)
		le.PutUint32(h[16:], p.rawSize)
		le.PutUint32(h[20:], p.rawOff)
		le.PutUint32(h[36:], 0x40000040) // initialized data, readable
		copy(buf[p.rawOff:], s.Data)
	}

	return append(buf, trailing...)
}
