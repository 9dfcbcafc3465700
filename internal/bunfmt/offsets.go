package bunfmt

import "encoding/binary"

// Trailer marks the end of every payload.
var Trailer = []byte("\n---- Bun! ----\n")

// TrailerSize is the length of Trailer.
const TrailerSize = 16

// OffsetsSize is the encoded size of Offsets.
const OffsetsSize = 32

// Offsets is the fixed header stored immediately before the trailer.
//
// Layout (little-endian):
//
//	byte_count:            u64
//	modules_ptr:           StringPointer
//	entry_point_id:        u32
//	compile_exec_argv_ptr: StringPointer
//	flags:                 u32
type Offsets struct {
	// ByteCount is the size of the data region preceding the header. A rebuilt
	// payload stores the header's own offset here, which is the same value.
	ByteCount       uint64
	Modules         StringPointer
	EntryPointID    uint32
	CompileExecArgv StringPointer
	Flags           uint32
}

// ReadOffsets decodes an Offsets header. b must hold at least OffsetsSize bytes.
func ReadOffsets(b []byte) Offsets {
	_ = b[OffsetsSize-1]
	return Offsets{
		ByteCount:       binary.LittleEndian.Uint64(b[0:8]),
		Modules:         readStringPointer(b[8:16]),
		EntryPointID:    binary.LittleEndian.Uint32(b[16:20]),
		CompileExecArgv: readStringPointer(b[20:28]),
		Flags:           binary.LittleEndian.Uint32(b[28:32]),
	}
}

// Put encodes o into b. b must hold at least OffsetsSize bytes.
func (o Offsets) Put(b []byte) {
	_ = b[OffsetsSize-1]
	binary.LittleEndian.PutUint64(b[0:8], o.ByteCount)
	o.Modules.put(b[8:16])
	binary.LittleEndian.PutUint32(b[16:20], o.EntryPointID)
	o.CompileExecArgv.put(b[20:28])
	binary.LittleEndian.PutUint32(b[28:32], o.Flags)
}
