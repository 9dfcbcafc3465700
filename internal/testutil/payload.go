package testutil

import (
	"encoding/binary"
	"testing"
)

// PayloadTrailer mirrors the marker written after every Bun payload.
const PayloadTrailer = "\n---- Bun! ----\n"

// Module record sizes used by test payloads.
const (
	ModuleSizeOld = 36
	ModuleSizeNew = 52
)

// TestModule describes one module of a synthetic payload.
type TestModule struct {
	Name               string
	Contents           string
	Sourcemap          string
	Bytecode           string
	ModuleInfo         string
	BytecodeOriginPath string
	Encoding           uint8
	Loader             uint8
	ModuleFormat       uint8
	Side               uint8
}

// TestPayload describes a synthetic payload.
type TestPayload struct {
	Modules      []TestModule
	StructSize   int // ModuleSizeOld or ModuleSizeNew; 0 means new
	EntryPointID uint32
	Argv         string
	Flags        uint32
	// Padding inserts zero bytes at the start of the data region so that no
	// string starts at offset zero.
	Padding int
}

// BuildPayload encodes p as [data][offsets][trailer]. Strings are stored
// without terminators and the argv string precedes them, a layout that
// differs from what a rebuild produces.
func BuildPayload(tb testing.TB, p TestPayload) []byte {
	tb.Helper()

	structSize := p.StructSize
	if structSize == 0 {
		structSize = ModuleSizeNew
	}

	data := make([]byte, p.Padding)
	add := func(s string) [2]uint32 {
		ptr := [2]uint32{uint32(len(data)), uint32(len(s))} //nolint:gosec // test sizes are small
		data = append(data, s...)
		return ptr
	}

	argv := add(p.Argv)

	ptrs := make([][][2]uint32, len(p.Modules))
	for i, m := range p.Modules {
		fields := []string{m.Name, m.Contents, m.Sourcemap, m.Bytecode}
		if structSize == ModuleSizeNew {
			fields = append(fields, m.ModuleInfo, m.BytecodeOriginPath)
		}
		for _, f := range fields {
			ptrs[i] = append(ptrs[i], add(f))
		}
	}

	modulesOffset := uint32(len(data)) //nolint:gosec // test sizes are small
	for i, m := range p.Modules {
		rec := make([]byte, structSize)
		pos := 0
		for _, ptr := range ptrs[i] {
			binary.LittleEndian.PutUint32(rec[pos:], ptr[0])
			binary.LittleEndian.PutUint32(rec[pos+4:], ptr[1])
			pos += 8
		}
		rec[pos] = m.Encoding
		rec[pos+1] = m.Loader
		rec[pos+2] = m.ModuleFormat
		rec[pos+3] = m.Side
		data = append(data, rec...)
	}
	modulesLen := uint32(len(p.Modules) * structSize) //nolint:gosec // test sizes are small

	offsets := make([]byte, 32)
	binary.LittleEndian.PutUint64(offsets[0:], uint64(len(data)))
	binary.LittleEndian.PutUint32(offsets[8:], modulesOffset)
	binary.LittleEndian.PutUint32(offsets[12:], modulesLen)
	binary.LittleEndian.PutUint32(offsets[16:], p.EntryPointID)
	binary.LittleEndian.PutUint32(offsets[20:], argv[0])
	binary.LittleEndian.PutUint32(offsets[24:], argv[1])
	binary.LittleEndian.PutUint32(offsets[28:], p.Flags)

	out := append(data, offsets...)
	return append(out, PayloadTrailer...)
}

// DefaultPayload returns a payload with an entrypoint module and two helpers.
func DefaultPayload() TestPayload {
	return TestPayload{
		Modules: []TestModule{
			{Name: "/$bunfs/root/claude", Contents: "console.log('hello');", Sourcemap: "{}", Encoding: 2, Loader: 1, ModuleFormat: 1},
			{Name: "/$bunfs/root/worker.js", Contents: "postMessage(1);", Bytecode: "\x01\x02\x03", Encoding: 2, Loader: 1, ModuleFormat: 2},
			{Name: "/$bunfs/root/tree-sitter.wasm", Contents: "\x00asm\x01\x00\x00\x00", Loader: 9, ModuleInfo: "info", BytecodeOriginPath: "/origin"},
		},
		EntryPointID: 0,
		Argv:         "--smol",
		Flags:        3,
		Padding:      8,
	}
}

// SectionData wraps payload in the [size][payload] layout used by Mach-O and PE
// sections, with a header of 4 or 8 bytes and optional trailing padding.
func SectionData(payload []byte, headerSize, padding int) []byte {
	out := make([]byte, headerSize+len(payload)+padding)
	if headerSize == 8 {
		binary.LittleEndian.PutUint64(out, uint64(len(payload)))
	} else {
		binary.LittleEndian.PutUint32(out, uint32(len(payload))) //nolint:gosec // test sizes are small
	}
	copy(out[headerSize:], payload)
	return out
}
