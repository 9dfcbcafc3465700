package bunfmt

import (
	"fmt"

	"github.com/meigma/bunpatch/internal/bintype"
	"github.com/meigma/bunpatch/internal/sizing"
)

// NoTarget passed to Rebuild leaves every module unchanged.
const NoTarget = -1

// Rebuild lays out a new payload from b, replacing the contents of the module at
// index target with replacement. Every other string is copied verbatim.
//
// The output is [strings][module table][compile exec argv][Offsets][Trailer],
// with every string followed by a NUL byte. Module records keep the source
// record size; EntryPointID and Flags are carried over unchanged.
func Rebuild(b *Blob, target int, replacement []byte) ([]byte, error) {
	if target != NoTarget && (target < 0 || target >= b.Len()) {
		return nil, fmt.Errorf("target module %d out of range [0, %d)", target, b.Len())
	}

	type entry struct {
		mod     Module
		strings [][]byte
	}
	entries := make([]entry, 0, b.Len())

	size := 0
	for i, m := range b.Modules() {
		ptrs := m.pointers(b.ModuleStructSize)
		strs := make([][]byte, len(ptrs))
		for j, p := range ptrs {
			strs[j] = b.Bytes(*p)
		}
		if i == target {
			strs[1] = replacement
		}
		for _, s := range strs {
			size += len(s) + 1
		}
		entries = append(entries, entry{mod: m, strings: strs})
	}

	modulesOffset := size
	modulesLen := len(entries) * b.ModuleStructSize
	size += modulesLen

	argv := b.CompileExecArgv()
	argvOffset := size
	size += len(argv) + 1

	offsetsOffset := size
	size += OffsetsSize + TrailerSize

	if _, err := sizing.ToUint32(size, bintype.ErrSizeOverflow); err != nil {
		return nil, fmt.Errorf("rebuilt payload of %d bytes: %w", size, err)
	}

	out := make([]byte, size)
	pos := 0
	place := func(s []byte) StringPointer {
		p := StringPointer{Offset: uint32(pos), Length: uint32(len(s))} //nolint:gosec // bounded by size check
		pos += copy(out[pos:], s)
		out[pos] = 0
		pos++
		return p
	}

	for i := range entries {
		e := &entries[i]
		for j, p := range e.mod.pointers(b.ModuleStructSize) {
			*p = place(e.strings[j])
		}
	}

	for i, e := range entries {
		start := modulesOffset + i*b.ModuleStructSize
		e.mod.put(out[start:start+b.ModuleStructSize], b.ModuleStructSize)
	}
	pos = argvOffset
	argvPtr := place(argv)

	Offsets{
		ByteCount:       uint64(offsetsOffset),
		Modules:         StringPointer{Offset: uint32(modulesOffset), Length: uint32(modulesLen)}, //nolint:gosec // bounded by size check
		EntryPointID:    b.Offsets.EntryPointID,
		CompileExecArgv: argvPtr,
		Flags:           b.Offsets.Flags,
	}.Put(out[offsetsOffset:])
	copy(out[offsetsOffset+OffsetsSize:], Trailer)

	return out, nil
}
