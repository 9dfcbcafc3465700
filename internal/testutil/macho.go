package testutil

import (
	"encoding/binary"
	"testing"
)

// Mach-O CPU types used by fixtures.
const (
	CPUTypeX86_64 uint32 = 0x01000007
	CPUTypeARM64  uint32 = 0x0100000c
)

// MachO fixture constants.
const (
	MachOTextVMAddr   = 0x100000000
	MachOSymtabSize   = 32
	MachOSignatureLen = 256
)

// MachOOptions configures BuildMachO.
type MachOOptions struct {
	CPU       uint32
	Section   []byte // full __BUN,__bun content
	Signature bool   // append an LC_CODE_SIGNATURE at the end of __LINKEDIT
}

// MachOPageSize returns the page size a fixture uses for cpu.
func MachOPageSize(cpu uint32) uint64 {
	if cpu == CPUTypeARM64 {
		return 0x4000
	}
	return 0x1000
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}

func putName(b []byte, name string) {
	copy(b[:16], name)
}

// BuildMachO returns a thin 64-bit little-endian Mach-O executable with
// __TEXT, __BUN (holding one __bun section) and __LINKEDIT segments, a symbol
// table and optionally a code signature.
func BuildMachO(tb testing.TB, opts MachOOptions) []byte {
	tb.Helper()

	le := binary.LittleEndian
	page := MachOPageSize(opts.CPU)

	ncmds := uint32(4)
	sizeofcmds := uint32(72 + 152 + 72 + 24)
	if opts.Signature {
		ncmds++
		sizeofcmds += 16
	}

	bunOff := page
	bunSize := alignUp(uint64(len(opts.Section)), page)
	linkOff := bunOff + bunSize
	linkSize := uint64(MachOSymtabSize)
	if opts.Signature {
		linkSize += MachOSignatureLen
	}

	buf := make([]byte, linkOff+linkSize)
	le.PutUint32(buf[0:], 0xfeedfacf)
	le.PutUint32(buf[4:], opts.CPU)
	le.PutUint32(buf[8:], 3)  // cpusubtype
	le.PutUint32(buf[12:], 2) // MH_EXECUTE
	le.PutUint32(buf[16:], ncmds)
	le.PutUint32(buf[20:], sizeofcmds)
	le.PutUint32(buf[24:], 0x00200085) // MH_NOUNDEFS|MH_DYLDLINK|MH_TWOLEVEL|MH_PIE

	pos := uint64(32)
	segment := func(name string, fileoff, filesize, vmaddr, vmsize uint64, nsects uint32) []byte {
		cmd := buf[pos:]
		le.PutUint32(cmd[0:], 0x19) // LC_SEGMENT_64
		le.PutUint32(cmd[4:], 72+80*nsects)
		putName(cmd[8:], name)
		le.PutUint64(cmd[24:], vmaddr)
		le.PutUint64(cmd[32:], vmsize)
		le.PutUint64(cmd[40:], fileoff)
		le.PutUint64(cmd[48:], filesize)
		le.PutUint32(cmd[56:], 7)
		le.PutUint32(cmd[60:], 5)
		le.PutUint32(cmd[64:], nsects)
		pos += 72 + 80*uint64(nsects)
		return cmd
	}

	segment("__TEXT", 0, page, MachOTextVMAddr, page, 0)

	bunAddr := uint64(MachOTextVMAddr) + page
	seg := segment("__BUN", bunOff, bunSize, bunAddr, bunSize, 1)
	sect := seg[72:]
	putName(sect[0:], "__bun")
	putName(sect[16:], "__BUN")
	le.PutUint64(sect[32:], bunAddr)
	le.PutUint64(sect[40:], uint64(len(opts.Section)))
	le.PutUint32(sect[48:], uint32(bunOff)) //nolint:gosec // fixture offsets are small
	copy(buf[bunOff:], opts.Section)

	linkAddr := bunAddr + bunSize
	segment("__LINKEDIT", linkOff, linkSize, linkAddr, alignUp(linkSize, page), 0)

	symtab := buf[pos:]
	le.PutUint32(symtab[0:], 0x2) // LC_SYMTAB
	le.PutUint32(symtab[4:], 24)
	le.PutUint32(symtab[8:], uint32(linkOff))     //nolint:gosec // fixture offsets are small
	le.PutUint32(symtab[12:], 1)                  // nsyms
	le.PutUint32(symtab[16:], uint32(linkOff+16)) //nolint:gosec // fixture offsets are small
	le.PutUint32(symtab[20:], 16)
	pos += 24

	nlist := buf[linkOff:]
	le.PutUint32(nlist[0:], 1)
	nlist[4] = 0x0f // N_SECT|N_EXT
	nlist[5] = 1
	le.PutUint64(nlist[8:], bunAddr)
	copy(buf[linkOff+16:], "\x00_main\x00")

	if opts.Signature {
		cs := buf[pos:]
		le.PutUint32(cs[0:], 0x1d) // LC_CODE_SIGNATURE
		le.PutUint32(cs[4:], 16)
		le.PutUint32(cs[8:], uint32(linkOff+MachOSymtabSize)) //nolint:gosec // fixture offsets are small
		le.PutUint32(cs[12:], MachOSignatureLen)
		// An embedded-signature superblob with no blobs; the remaining
		// bytes stay zero.
		sig := buf[linkOff+MachOSymtabSize:]
		binary.BigEndian.PutUint32(sig[0:], 0xfade0cc0)
		binary.BigEndian.PutUint32(sig[4:], MachOSignatureLen)
		binary.BigEndian.PutUint32(sig[8:], 0) // count
	}

	return buf
}
