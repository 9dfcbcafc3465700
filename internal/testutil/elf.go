package testutil

import (
	"debug/elf"
	"encoding/binary"
	"testing"
)

// ELF fixture layout constants.
const (
	elfHeaderSize  = 64
	elfPhdrSize    = 56
	elfShdrSize    = 64
	elfCodeSize    = 256
	elfShstrtab    = "\x00.shstrtab\x00"
	ELFDefinedSize = 520 // end of the section header table
)

// BuildELF returns a minimal x86-64 ELF executable with a single PT_LOAD
// segment, a .shstrtab section and the section header table at the end of the
// defined extent. The overlay, if any, is appended verbatim.
func BuildELF(tb testing.TB, overlay []byte) []byte {
	tb.Helper()

	le := binary.LittleEndian
	codeOff := elfHeaderSize + elfPhdrSize
	strOff := codeOff + elfCodeSize
	shOff := 392

	buf := make([]byte, ELFDefinedSize)
	copy(buf, elf.ELFMAG)
	buf[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	buf[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	buf[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	le.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(buf[24:], 0x400000+uint64(codeOff)) // entry
	le.PutUint64(buf[32:], elfHeaderSize)             // phoff
	le.PutUint64(buf[40:], uint64(shOff))             // shoff
	le.PutUint16(buf[52:], elfHeaderSize)
	le.PutUint16(buf[54:], elfPhdrSize)
	le.PutUint16(buf[56:], 1)
	le.PutUint16(buf[58:], elfShdrSize)
	le.PutUint16(buf[60:], 2)
	le.PutUint16(buf[62:], 1) // shstrndx

	ph := buf[elfHeaderSize:]
	le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_X))
	le.PutUint64(ph[8:], 0)
	le.PutUint64(ph[16:], 0x400000)
	le.PutUint64(ph[24:], 0x400000)
	le.PutUint64(ph[32:], uint64(strOff))
	le.PutUint64(ph[40:], uint64(strOff))
	le.PutUint64(ph[48:], 0x1000)

	for i := range elfCodeSize {
		buf[codeOff+i] = 0x90
	}
	copy(buf[strOff:], elfShstrtab)

	sh := buf[shOff+elfShdrSize:]
	le.PutUint32(sh[0:], 1) // name
	le.PutUint32(sh[4:], uint32(elf.SHT_STRTAB))
	le.PutUint64(sh[24:], uint64(strOff))
	le.PutUint64(sh[32:], uint64(len(elfShstrtab)))
	le.PutUint64(sh[48:], 1)

	return append(buf, overlay...)
}

// ELFOverlay returns [payload][u64 len(payload)], the overlay a Bun ELF build appends.
func ELFOverlay(payload []byte) []byte {
	out := make([]byte, len(payload)+8)
	copy(out, payload)
	binary.LittleEndian.PutUint64(out[len(payload):], uint64(len(payload)))
	return out
}
